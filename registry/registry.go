package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lumenlms/tutorkit/config"
	tutorerrors "github.com/lumenlms/tutorkit/errors"
)

// Agent is a configured tutor personality. From the orchestration engine's
// point of view agents are configuration, not session state: the registry
// hands out read-only snapshots.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	Persona     string         `json:"persona"`
	Tags        []string       `json:"tags,omitempty"`
	Temperature float64        `json:"temperature"`
	Active      bool           `json:"active"`
	Config      map[string]any `json:"config,omitempty"`
}

// Rules extracts optional "do" / "dont" guidance lists from the agent's
// free-form config. Malformed entries are skipped rather than surfaced; the
// lists are advisory prompt material, not required configuration.
func (a *Agent) Rules() (do []string, dont []string) {
	if a == nil || a.Config == nil {
		return nil, nil
	}
	return stringList(a.Config["do"]), stringList(a.Config["dont"])
}

func stringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		// allow a single rule or a JSON-encoded array
		trimmed := strings.TrimSpace(items)
		if strings.HasPrefix(trimmed, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
				return arr
			}
			return nil
		}
		if trimmed != "" {
			return []string{trimmed}
		}
	}
	return nil
}

// Registry holds the ordered roster of tutor agents. Order is significant:
// the first active agent is the canonical "team" agent for collaborative
// conversations and the tie-break winner for routing.
type Registry struct {
	mu     sync.RWMutex
	agents []*Agent
	byID   map[string]*Agent
	byName map[string]*Agent
}

// New creates a registry from an ordered agent list.
func New(agents ...*Agent) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*Agent),
		byName: make(map[string]*Agent),
	}
	for _, ag := range agents {
		if err := r.add(ag); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadFile reads a JSON array of agents from path, preserving file order.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent roster: %w", err)
	}
	var agents []*Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("parse agent roster: %w", err)
	}
	return New(agents...)
}

func (r *Registry) add(ag *Agent) error {
	if ag == nil {
		return fmt.Errorf("agent cannot be nil")
	}
	v := config.NewValidator().
		RequireNonEmpty("agent.id", ag.ID).
		RequireNonEmpty("agent.name", ag.Name).
		ValidateNonNegativeFloat("agent.temperature", ag.Temperature)
	if err := v.Err(); err != nil {
		return err
	}
	if _, exists := r.byID[ag.ID]; exists {
		return fmt.Errorf("duplicate agent id %s", ag.ID)
	}
	key := strings.ToLower(ag.Name)
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("duplicate agent name %s", ag.Name)
	}
	if ag.DisplayName == "" {
		ag.DisplayName = ag.Name
	}
	r.agents = append(r.agents, ag)
	r.byID[ag.ID] = ag
	r.byName[key] = ag
	return nil
}

// All returns every agent in registration order.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Agent(nil), r.agents...)
}

// Active returns active agents in registration order.
func (r *Registry) Active() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, ag := range r.agents {
		if ag.Active {
			out = append(out, ag)
		}
	}
	return out
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, tutorerrors.ErrNotFound)
	}
	return ag, nil
}

// GetByName returns the agent with the given machine name (case-insensitive).
func (r *Registry) GetByName(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", name, tutorerrors.ErrNotFound)
	}
	return ag, nil
}

// TeamAgent returns the first active agent in registration order. All
// collaborative turns are funneled into this agent's conversation so the
// learner's collaborative history stays one continuous thread.
func (r *Registry) TeamAgent() (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ag := range r.agents {
		if ag.Active {
			return ag, nil
		}
	}
	return nil, tutorerrors.ErrNoAgents
}
