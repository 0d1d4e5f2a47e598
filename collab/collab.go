package collab

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/mention"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/pkg/logging"
	"github.com/lumenlms/tutorkit/prompt"
	"github.com/lumenlms/tutorkit/provider"
	"github.com/lumenlms/tutorkit/registry"
	"github.com/lumenlms/tutorkit/routing"
)

// Style governs how multiple agents jointly respond within one turn.
type Style string

const (
	// StyleParallel invokes every selected agent concurrently; no agent sees
	// another's output.
	StyleParallel Style = "parallel"
	// StyleSequential runs agents in order, each building on the prior
	// contributions of this turn.
	StyleSequential Style = "sequential"
	// StyleDebate runs the sequential pattern for two full rounds, inviting
	// agreement or disagreement in round two.
	StyleDebate Style = "debate"
	// StyleRandom shuffles the roster, draws 1-3 agents, and runs them
	// sequentially.
	StyleRandom Style = "random"
)

// DefaultMaxAgents bounds automatic relevance selection.
const DefaultMaxAgents = 2

const debateRounds = 2

// Settings selects the style and optionally pins the participating agents.
type Settings struct {
	Style            Style
	SelectedAgentIDs []string
	MaxAgents        int
}

// Result is one collaborative turn: the individual contributions plus the
// composed display block stored as a single assistant message.
type Result struct {
	Style         Style
	Contributions []message.AgentContribution
	DisplayText   string
	StrippedText  string
}

// Orchestrator executes collaborative turns against a completion client.
type Orchestrator struct {
	client      provider.Client
	keyword     *routing.Keyword
	logger      *slog.Logger
	replyBudget int
	callTimeout time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReplyBudget overrides the per-agent response-length budget.
func WithReplyBudget(budget int) Option {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.replyBudget = budget
		}
	}
}

// WithCallTimeout bounds each agent's completion call so one slow agent
// cannot stall a sequential turn indefinitely.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithRand injects the random source; mainly useful for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a collaboration orchestrator.
func New(client provider.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		keyword:     routing.NewKeyword(),
		replyBudget: prompt.DefaultReplyBudget,
		callTimeout: 45 * time.Second,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("collab")
	}
	return o
}

// Collaborate runs one collaborative turn. roster is the full active agent
// list in registry order; history is the shared prior conversation.
func (o *Orchestrator) Collaborate(ctx context.Context, text string, roster []*registry.Agent, history []*message.Message, settings Settings) (*Result, error) {
	if len(roster) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	style := settings.Style
	if style == "" {
		style = StyleParallel
	}

	stripped := mention.Strip(text)
	if stripped == "" {
		stripped = text
	}

	var (
		contributions []message.AgentContribution
		participants  []*registry.Agent
	)

	switch style {
	case StyleRandom:
		participants = o.drawRandom(roster)
		contributions = o.runSequential(ctx, participants, stripped, history, 0)
	case StyleSequential:
		participants = o.selectAgents(text, roster, settings)
		contributions = o.runSequential(ctx, participants, stripped, history, 0)
	case StyleDebate:
		participants = o.selectAgents(text, roster, settings)
		for round := 1; round <= debateRounds; round++ {
			contributions = append(contributions, o.runSequentialWithContext(ctx, participants, stripped, history, round, contributions)...)
		}
	case StyleParallel:
		participants = o.selectAgents(text, roster, settings)
		contributions = o.runParallel(ctx, participants, stripped, history)
	default:
		return nil, fmt.Errorf("unknown collaboration style %q: %w", style, tutorerrors.ErrInvalidInput)
	}

	if len(participants) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	return &Result{
		Style:         style,
		Contributions: contributions,
		DisplayText:   compose(participants, contributions),
		StrippedText:  stripped,
	}, nil
}

// selectAgents applies the selection precedence: explicit @-mentions win,
// then explicitly enumerated agent ids, then keyword relevance.
func (o *Orchestrator) selectAgents(text string, roster []*registry.Agent, settings Settings) []*registry.Agent {
	if mentioned := mention.Parse(text, roster); len(mentioned) > 0 {
		return mentioned
	}

	if len(settings.SelectedAgentIDs) > 0 {
		wanted := make(map[string]bool, len(settings.SelectedAgentIDs))
		for _, id := range settings.SelectedAgentIDs {
			wanted[id] = true
		}
		var out []*registry.Agent
		for _, ag := range roster {
			if wanted[ag.ID] {
				out = append(out, ag)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	maxAgents := settings.MaxAgents
	if maxAgents <= 0 {
		maxAgents = DefaultMaxAgents
	}
	ranked, _ := o.keyword.Rank(text, roster)
	if len(ranked) > maxAgents {
		ranked = ranked[:maxAgents]
	}
	byID := make(map[string]*registry.Agent, len(roster))
	for _, ag := range roster {
		byID[ag.ID] = ag
	}
	out := make([]*registry.Agent, 0, len(ranked))
	for _, score := range ranked {
		if ag, ok := byID[score.AgentID]; ok {
			out = append(out, ag)
		}
	}
	return out
}

// drawRandom shuffles the full roster and draws 1-3 agents, ignoring the
// usual selection precedence.
func (o *Orchestrator) drawRandom(roster []*registry.Agent) []*registry.Agent {
	o.randMu.Lock()
	defer o.randMu.Unlock()

	shuffled := append([]*registry.Agent(nil), roster...)
	o.rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	count := 1 + o.rand.Intn(3)
	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count]
}

func (o *Orchestrator) runParallel(ctx context.Context, agents []*registry.Agent, text string, history []*message.Message) []message.AgentContribution {
	contributions := make([]message.AgentContribution, len(agents))
	var wg sync.WaitGroup
	for i, ag := range agents {
		wg.Add(1)
		go func(idx int, ag *registry.Agent) {
			defer wg.Done()
			contributions[idx] = o.invoke(ctx, ag, text, history, "", 0)
		}(i, ag)
	}
	wg.Wait()
	return contributions
}

func (o *Orchestrator) runSequential(ctx context.Context, agents []*registry.Agent, text string, history []*message.Message, round int) []message.AgentContribution {
	return o.runSequentialWithContext(ctx, agents, text, history, round, nil)
}

// runSequentialWithContext runs agents strictly in order; each agent after
// the first sees a running transcript of the turn so far.
func (o *Orchestrator) runSequentialWithContext(ctx context.Context, agents []*registry.Agent, text string, history []*message.Message, round int, prior []message.AgentContribution) []message.AgentContribution {
	transcript := append([]message.AgentContribution(nil), prior...)
	out := make([]message.AgentContribution, 0, len(agents))
	for _, ag := range agents {
		extra := turnContext(transcript, round)
		contribution := o.invoke(ctx, ag, text, history, extra, round)
		transcript = append(transcript, contribution)
		out = append(out, contribution)
	}
	return out
}

// turnContext renders the running transcript of this turn as an extra system
// instruction for the next agent.
func turnContext(transcript []message.AgentContribution, round int) string {
	if len(transcript) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Other tutors have already replied in this turn:\n\n")
	for _, c := range transcript {
		fmt.Fprintf(&b, "%s said: %s\n\n", c.AgentName, c.Text)
	}
	if round >= 2 {
		b.WriteString("This is the second round of the discussion. Explicitly agree, disagree, or add nuance to what has been said so far.")
	} else {
		b.WriteString("Acknowledge what has been said and build on it. Do not repeat it.")
	}
	return b.String()
}

// invoke runs one agent call, converting failure into a placeholder
// contribution so a single agent never aborts the turn.
func (o *Orchestrator) invoke(ctx context.Context, ag *registry.Agent, text string, history []*message.Message, extraSystem string, round int) message.AgentContribution {
	system := prompt.BuildSystem(ag, o.replyBudget)
	if extraSystem != "" {
		system += "\n\n" + extraSystem
	}

	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := o.client.Complete(callCtx, &provider.Request{
		Message:     text,
		System:      system,
		History:     history,
		Temperature: ag.Temperature,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		o.logger.Warn("agent contribution failed", "agent", ag.Name, "round", round, "error", err)
		return message.AgentContribution{
			AgentID:   ag.ID,
			AgentName: ag.Name,
			Text:      Placeholder(ag),
			LatencyMS: latency,
			Round:     round,
		}
	}

	return message.AgentContribution{
		AgentID:   ag.ID,
		AgentName: ag.Name,
		Text:      stripSpeakerPrefix(ag, completion.Text),
		LatencyMS: latency,
		Round:     round,
	}
}

// Placeholder is the contribution text recorded when an agent fails.
func Placeholder(ag *registry.Agent) string {
	return fmt.Sprintf("%s was unable to respond this time.", ag.DisplayName)
}

// stripSpeakerPrefix drops a leading "Name:" or "**Name**:" from the reply.
// The UI supplies the speaker identity separately, so a repeated name prefix
// is noise, not signal.
func stripSpeakerPrefix(ag *registry.Agent, text string) string {
	trimmed := strings.TrimSpace(text)
	for _, name := range []string{ag.DisplayName, ag.Name} {
		if name == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)^\*{0,2}` + regexp.QuoteMeta(name) + `\*{0,2}\s*:\s*`)
		if loc := re.FindStringIndex(trimmed); loc != nil {
			return strings.TrimSpace(trimmed[loc[1]:])
		}
	}
	return trimmed
}

// compose concatenates all contributions into one display block, each agent's
// text under its own heading.
func compose(agents []*registry.Agent, contributions []message.AgentContribution) string {
	names := make(map[string]string, len(agents))
	for _, ag := range agents {
		names[ag.ID] = ag.DisplayName
	}
	blocks := make([]string, 0, len(contributions))
	for _, c := range contributions {
		display := names[c.AgentID]
		if display == "" {
			display = c.AgentName
		}
		header := "### " + display
		if c.Round >= 2 {
			header = fmt.Sprintf("### %s (round %d)", display, c.Round)
		}
		blocks = append(blocks, header+"\n\n"+c.Text)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
