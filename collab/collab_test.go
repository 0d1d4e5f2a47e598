package collab

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/provider"
	"github.com/lumenlms/tutorkit/registry"
)

// scriptedClient answers each call through the reply function and records
// every request, guarded for the parallel style.
type scriptedClient struct {
	mu    sync.Mutex
	reqs  []*provider.Request
	reply func(call int, req *provider.Request) (string, error)
}

func (c *scriptedClient) Complete(_ context.Context, req *provider.Request) (*provider.Completion, error) {
	c.mu.Lock()
	call := len(c.reqs)
	c.reqs = append(c.reqs, req)
	reply := c.reply
	c.mu.Unlock()

	text, err := reply(call, req)
	if err != nil {
		return nil, err
	}
	return &provider.Completion{Text: text, Model: "fake"}, nil
}

func (c *scriptedClient) requests() []*provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*provider.Request(nil), c.reqs...)
}

func roster() []*registry.Agent {
	return []*registry.Agent{
		{ID: "a1", Name: "sage", DisplayName: "Professor Sage", Persona: "persona:sage", Active: true},
		{ID: "a2", Name: "coach", DisplayName: "Coach", Persona: "persona:coach", Active: true},
		{ID: "a3", Name: "builder", DisplayName: "Builder", Persona: "persona:builder", Active: true},
	}
}

func personaOf(req *provider.Request) string {
	for _, p := range []string{"persona:sage", "persona:coach", "persona:builder"} {
		if strings.Contains(req.System, p) {
			return p
		}
	}
	return ""
}

func TestParallelFailureYieldsPlaceholder(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, req *provider.Request) (string, error) {
		if personaOf(req) == "persona:coach" {
			return "", errors.New("agent unavailable")
		}
		return "a fine answer", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "help me out", roster(), nil, Settings{
		Style:            StyleParallel,
		SelectedAgentIDs: []string{"a1", "a2", "a3"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	if len(result.Contributions) != 3 {
		t.Fatalf("Expected 3 contributions, got %d", len(result.Contributions))
	}
	var placeholders int
	for _, c := range result.Contributions {
		if c.Text == "Coach was unable to respond this time." {
			placeholders++
			if c.AgentID != "a2" {
				t.Errorf("Placeholder attributed to wrong agent %s", c.AgentID)
			}
		}
	}
	if placeholders != 1 {
		t.Errorf("Expected exactly one placeholder contribution, got %d", placeholders)
	}
}

func TestParallelAgentsDoNotSeeEachOther(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}}
	o := New(client)

	_, err := o.Collaborate(context.Background(), "hello", roster(), nil, Settings{
		Style:            StyleParallel,
		SelectedAgentIDs: []string{"a1", "a2"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	for _, req := range client.requests() {
		if strings.Contains(req.System, "already replied in this turn") {
			t.Error("Parallel agents should not receive the running transcript")
		}
	}
}

func TestSequentialThreadsTranscript(t *testing.T) {
	client := &scriptedClient{reply: func(call int, _ *provider.Request) (string, error) {
		if call == 0 {
			return "recursion needs a base case", nil
		}
		return "and each call must shrink the input", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "explain recursion", roster(), nil, Settings{
		Style:            StyleSequential,
		SelectedAgentIDs: []string{"a1", "a2"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	reqs := client.requests()
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 completion calls, got %d", len(reqs))
	}
	if strings.Contains(reqs[0].System, "already replied") {
		t.Error("First agent should not see a transcript")
	}
	if !strings.Contains(reqs[1].System, "sage said: recursion needs a base case") {
		t.Errorf("Second agent should see the first contribution, got system:\n%s", reqs[1].System)
	}
	if !strings.Contains(reqs[1].System, "build on it") {
		t.Error("Second agent should be told to build on prior replies")
	}

	if result.Contributions[0].Round != 0 || result.Contributions[1].Round != 0 {
		t.Error("Sequential contributions should not carry a round number")
	}
}

func TestDebateRunsTwoRounds(t *testing.T) {
	client := &scriptedClient{reply: func(call int, _ *provider.Request) (string, error) {
		return "position " + string(rune('A'+call)), nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "tabs or spaces?", roster(), nil, Settings{
		Style:            StyleDebate,
		SelectedAgentIDs: []string{"a1", "a3"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	if len(result.Contributions) != 4 {
		t.Fatalf("Expected 4 contributions for 2 agents over 2 rounds, got %d", len(result.Contributions))
	}
	wantRounds := []int{1, 1, 2, 2}
	for i, c := range result.Contributions {
		if c.Round != wantRounds[i] {
			t.Errorf("Contribution %d: expected round %d, got %d", i, wantRounds[i], c.Round)
		}
	}

	reqs := client.requests()
	if !strings.Contains(reqs[2].System, "second round") {
		t.Error("Round two agents should be invited to agree or disagree")
	}
	if !strings.Contains(reqs[3].System, "position A") || !strings.Contains(reqs[3].System, "position C") {
		t.Error("Round two transcript should include contributions from both rounds")
	}
}

func TestRandomDrawBounds(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}}
	o := New(client, WithRand(rand.New(rand.NewSource(7))))

	for i := 0; i < 20; i++ {
		result, err := o.Collaborate(context.Background(), "surprise me", roster(), nil, Settings{Style: StyleRandom})
		if err != nil {
			t.Fatalf("Collaboration failed: %v", err)
		}
		n := len(result.Contributions)
		if n < 1 || n > 3 {
			t.Fatalf("Expected 1-3 contributions, got %d", n)
		}
	}
}

func TestMentionsOverrideSelectedAgents(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "@builder my loop is broken", roster(), nil, Settings{
		Style:            StyleSequential,
		SelectedAgentIDs: []string{"a1", "a2"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	if len(result.Contributions) != 1 {
		t.Fatalf("Expected only the mentioned agent, got %d contributions", len(result.Contributions))
	}
	if result.Contributions[0].AgentID != "a3" {
		t.Errorf("Expected builder a3, got %s", result.Contributions[0].AgentID)
	}
	if result.StrippedText != "my loop is broken" {
		t.Errorf("Expected stripped text without the mention, got %q", result.StrippedText)
	}
}

func TestRelevanceSelectionCapsAtMaxAgents(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "plain question", roster(), nil, Settings{Style: StyleParallel})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}
	if len(result.Contributions) != DefaultMaxAgents {
		t.Errorf("Expected %d contributions from relevance selection, got %d", DefaultMaxAgents, len(result.Contributions))
	}
}

func TestSpeakerPrefixStripped(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "**Professor Sage**: think about the base case", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "hello", roster(), nil, Settings{
		Style:            StyleSequential,
		SelectedAgentIDs: []string{"a1"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}
	if result.Contributions[0].Text != "think about the base case" {
		t.Errorf("Expected speaker prefix stripped, got %q", result.Contributions[0].Text)
	}
}

func TestComposeUsesHeadings(t *testing.T) {
	client := &scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}}
	o := New(client)

	result, err := o.Collaborate(context.Background(), "hello", roster(), nil, Settings{
		Style:            StyleParallel,
		SelectedAgentIDs: []string{"a1", "a2"},
	})
	if err != nil {
		t.Fatalf("Collaboration failed: %v", err)
	}

	if !strings.Contains(result.DisplayText, "### Professor Sage") {
		t.Errorf("Expected a heading per agent, got:\n%s", result.DisplayText)
	}
	if !strings.Contains(result.DisplayText, "\n\n---\n\n") {
		t.Error("Expected contributions separated by a rule")
	}
}

func TestUnknownStyleRejected(t *testing.T) {
	o := New(&scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}})

	_, err := o.Collaborate(context.Background(), "hello", roster(), nil, Settings{Style: "swarm"})
	if !errors.Is(err, tutorerrors.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestEmptyRosterRejected(t *testing.T) {
	o := New(&scriptedClient{reply: func(_ int, _ *provider.Request) (string, error) {
		return "reply", nil
	}})

	_, err := o.Collaborate(context.Background(), "hello", nil, nil, Settings{Style: StyleParallel})
	if !errors.Is(err, tutorerrors.ErrNoAgents) {
		t.Errorf("Expected ErrNoAgents, got %v", err)
	}
}
