package routing

import (
	"context"
	"sort"
	"strings"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/registry"
)

const (
	// BaselineScore is every agent's starting score before any rule fires.
	BaselineScore = 0.3
	// MaxScore caps a single agent's accumulated score.
	MaxScore = 0.95
	// descriptionBonus is added once per content word from the message that
	// appears in the agent's description or tags.
	descriptionBonus = 0.05
	// contentWordMinLen filters out short function words in the description pass.
	contentWordMinLen = 5
)

// Strategy selects the agent that should respond to a message, ranking the
// rest as alternatives.
type Strategy interface {
	Route(ctx context.Context, text string, agents []*registry.Agent) (*message.RoutingInfo, error)
}

// Rule boosts a named set of agents when any of its trigger phrases appears
// in the message. The table is data, not control flow, so rules can be tuned
// and unit-tested independently.
type Rule struct {
	Label      string
	Triggers   []string
	AgentNames []string
	Boost      float64
}

// DefaultRules returns the ordered keyword rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Label:      "emotional support and encouragement",
			Triggers:   []string{"frustrated", "confused", "stuck", "give up", "this is hard", "i can't", "overwhelmed", "stressed"},
			AgentNames: []string{"mentor", "cheer"},
			Boost:      0.35,
		},
		{
			Label:      "opinions and debate",
			Triggers:   []string{"what do you think", "do you agree", "better than", "versus", " vs ", "argue", "opinion", "debate"},
			AgentNames: []string{"debater"},
			Boost:      0.4,
		},
		{
			Label:      "conceptual understanding",
			Triggers:   []string{"why does", "why is", "what if", "how come", "what does it mean", "explain the concept", "understand why"},
			AgentNames: []string{"sage"},
			Boost:      0.4,
		},
		{
			Label:      "step-by-step guidance",
			Triggers:   []string{"how do i", "how to", "steps to", "walk me through", "show me how", "guide me"},
			AgentNames: []string{"coach"},
			Boost:      0.4,
		},
		{
			Label:      "practical project and technical debugging work",
			Triggers:   []string{"built", "error", "bug", "debug", "crash", "my code", "my project", "function", "doesn't work", "not working"},
			AgentNames: []string{"builder"},
			Boost:      0.5,
		},
		{
			Label:      "casual conversation",
			Triggers:   []string{"hello", "hi there", "hey", "what's up", "good morning", "thanks", "thank you"},
			AgentNames: []string{"pal"},
			Boost:      0.3,
		},
		{
			Label:      "beginner-friendly encouragement",
			Triggers:   []string{"beginner", "new to", "just started", "first time", "never done", "am i doing this right"},
			AgentNames: []string{"cheer", "mentor"},
			Boost:      0.35,
		},
	}
}

// Keyword is the default deterministic routing strategy. It is a pure
// function of (message, ordered agent list): no external calls, no clock, no
// randomness.
type Keyword struct {
	rules []Rule
}

// NewKeyword creates a keyword strategy with the default rule table.
func NewKeyword() *Keyword {
	return &Keyword{rules: DefaultRules()}
}

// NewKeywordWithRules creates a keyword strategy with a custom rule table.
func NewKeywordWithRules(rules []Rule) *Keyword {
	return &Keyword{rules: rules}
}

// Route implements Strategy.
func (k *Keyword) Route(_ context.Context, text string, agents []*registry.Agent) (*message.RoutingInfo, error) {
	ranked, label := k.Rank(text, agents)
	if len(ranked) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	selected := ranked[0]
	reason := "no strong signal; defaulting to the first available tutor"
	if label != "" {
		reason = "message points to " + label
	}

	return &message.RoutingInfo{
		AgentID:      selected.AgentID,
		AgentName:    selected.AgentName,
		Reason:       reason,
		Confidence:   selected.Score,
		Alternatives: ranked[1:],
	}, nil
}

// Rank scores every agent for the message and returns them in descending
// score order, together with the label of the winner's strongest rule.
// Ties keep registration order, which makes the first-registered agent the
// winner when no rule fires.
func (k *Keyword) Rank(text string, agents []*registry.Agent) ([]message.AgentScore, string) {
	if len(agents) == 0 {
		return nil, ""
	}

	lowered := strings.ToLower(text)
	scores := make([]float64, len(agents))
	labels := make([]string, len(agents))
	bestRule := make([]float64, len(agents))
	for i := range agents {
		scores[i] = BaselineScore
	}

	for _, rule := range k.rules {
		if !triggered(lowered, rule.Triggers) {
			continue
		}
		for i, ag := range agents {
			if !containsName(rule.AgentNames, ag.Name) {
				continue
			}
			scores[i] = capScore(scores[i] + rule.Boost)
			if rule.Boost > bestRule[i] {
				bestRule[i] = rule.Boost
				labels[i] = rule.Label
			}
		}
	}

	for i, ag := range agents {
		scores[i] = capScore(scores[i] + descriptionScore(lowered, ag))
	}

	order := make([]int, len(agents))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	ranked := make([]message.AgentScore, len(agents))
	for pos, idx := range order {
		ranked[pos] = message.AgentScore{
			AgentID:   agents[idx].ID,
			AgentName: agents[idx].Name,
			Score:     scores[idx],
		}
	}
	return ranked, labels[order[0]]
}

func triggered(lowered string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}
	return false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// descriptionScore adds a small bonus for each content word of the message
// that literally appears in the agent's description or tags.
func descriptionScore(lowered string, ag *registry.Agent) float64 {
	haystack := strings.ToLower(ag.Description + " " + strings.Join(ag.Tags, " "))
	if haystack == "" {
		return 0
	}
	seen := make(map[string]bool)
	var bonus float64
	for _, word := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(word) < contentWordMinLen || seen[word] {
			continue
		}
		seen[word] = true
		if strings.Contains(haystack, word) {
			bonus += descriptionBonus
		}
	}
	return bonus
}

func capScore(s float64) float64 {
	if s > MaxScore {
		return MaxScore
	}
	return s
}
