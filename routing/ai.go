package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/pkg/logging"
	"github.com/lumenlms/tutorkit/provider"
	"github.com/lumenlms/tutorkit/registry"
)

// AI is the optional model-assisted routing strategy. It asks the completion
// service to classify the message against the roster and expects strict JSON
// back. Any failure here is recoverable: callers wrap AI in a Fallback so the
// keyword strategy takes over.
type AI struct {
	client provider.Client
	logger *slog.Logger
}

// NewAI creates an AI-assisted routing strategy backed by the given client.
func NewAI(client provider.Client) *AI {
	return &AI{
		client: client,
		logger: logging.WithComponent("routing_ai"),
	}
}

type classification struct {
	Agent      string             `json:"agent"`
	Reason     string             `json:"reason"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
}

// Route implements Strategy.
func (a *AI) Route(ctx context.Context, text string, agents []*registry.Agent) (*message.RoutingInfo, error) {
	if len(agents) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}
	if a.client == nil {
		return nil, fmt.Errorf("routing client is not configured")
	}

	completion, err := a.client.Complete(ctx, &provider.Request{
		Message: classifierInput(text, agents),
		System:  classifierSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	result, err := decodeJSON[classification](completion.Text)
	if err != nil {
		return nil, fmt.Errorf("classification output invalid: %w", err)
	}

	selected := matchAgent(result.Agent, agents)
	if selected == nil {
		return nil, fmt.Errorf("classifier named unknown agent %q: %w", result.Agent, tutorerrors.ErrInvalidInput)
	}

	confidence := result.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("classifier confidence %g out of range: %w", confidence, tutorerrors.ErrInvalidInput)
	}

	alternatives := make([]message.AgentScore, 0, len(agents)-1)
	for _, ag := range agents {
		if ag.ID == selected.ID {
			continue
		}
		alternatives = append(alternatives, message.AgentScore{
			AgentID:   ag.ID,
			AgentName: ag.Name,
			Score:     result.Scores[ag.Name],
		})
	}

	reason := strings.TrimSpace(result.Reason)
	if reason == "" {
		reason = "selected by semantic classification"
	}

	return &message.RoutingInfo{
		AgentID:      selected.ID,
		AgentName:    selected.Name,
		Reason:       reason,
		Confidence:   confidence,
		Alternatives: alternatives,
	}, nil
}

const classifierSystem = "You route a learner's message to the best-suited tutor. " +
	"Respond with JSON only, no prose, in the form " +
	`{"agent": "<name>", "reason": "<short reason>", "confidence": <0..1>, "scores": {"<name>": <0..1>, ...}}.`

func classifierInput(text string, agents []*registry.Agent) string {
	var b strings.Builder
	b.WriteString("Tutors:\n")
	for _, ag := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", ag.Name, ag.Description)
	}
	b.WriteString("\nLearner message:\n")
	b.WriteString(text)
	return b.String()
}

func matchAgent(name string, agents []*registry.Agent) *registry.Agent {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for _, ag := range agents {
		if strings.ToLower(ag.Name) == needle || strings.ToLower(ag.DisplayName) == needle {
			return ag
		}
	}
	return nil
}

// decodeJSON tries to unmarshal the raw model output into T after stripping
// fences and surrounding prose.
func decodeJSON[T any](raw string) (*T, error) {
	clean := sanitizeJSON(raw)
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return &out, nil
}

func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		return strings.TrimSpace(trimmed)
	}
	// models sometimes wrap the object in explanatory prose
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// Fallback tries the primary strategy and falls back to the secondary on any
// error. Classification failures never escape to the caller.
type Fallback struct {
	primary   Strategy
	secondary Strategy
	logger    *slog.Logger
}

// NewFallback wraps primary so that secondary handles every failure.
func NewFallback(primary, secondary Strategy) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    logging.WithComponent("routing_fallback"),
	}
}

// Route implements Strategy.
func (f *Fallback) Route(ctx context.Context, text string, agents []*registry.Agent) (*message.RoutingInfo, error) {
	info, err := f.primary.Route(ctx, text, agents)
	if err == nil {
		return info, nil
	}
	f.logger.Warn("primary routing failed, falling back", "error", err)
	return f.secondary.Route(ctx, text, agents)
}
