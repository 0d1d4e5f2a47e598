package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/lumenlms/tutorkit/provider"
)

type fakeClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeClient) Complete(_ context.Context, _ *provider.Request) (*provider.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Completion{Text: f.reply, Model: "fake"}, nil
}

func TestAIRouteStrictJSON(t *testing.T) {
	client := &fakeClient{reply: `{"agent": "builder", "reason": "debugging question", "confidence": 0.85, "scores": {"builder": 0.85, "pal": 0.2}}`}
	ai := NewAI(client)

	info, err := ai.Route(context.Background(), "my code crashes", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	if info.AgentName != "builder" {
		t.Errorf("Expected builder, got %s", info.AgentName)
	}
	if info.Confidence != 0.85 {
		t.Errorf("Expected confidence 0.85, got %g", info.Confidence)
	}
	if info.Reason != "debugging question" {
		t.Errorf("Expected classifier reason, got %q", info.Reason)
	}
	if len(info.Alternatives) != len(roster())-1 {
		t.Errorf("Expected %d alternatives, got %d", len(roster())-1, len(info.Alternatives))
	}
}

func TestAIRouteFencedJSON(t *testing.T) {
	client := &fakeClient{reply: "```json\n{\"agent\": \"sage\", \"reason\": \"conceptual\", \"confidence\": 0.7}\n```"}
	ai := NewAI(client)

	info, err := ai.Route(context.Background(), "why does this work", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}
	if info.AgentName != "sage" {
		t.Errorf("Expected sage, got %s", info.AgentName)
	}
}

func TestAIRouteProseWrappedJSON(t *testing.T) {
	client := &fakeClient{reply: `Sure! Here is the classification: {"agent": "coach", "reason": "procedural", "confidence": 0.6} Hope that helps.`}
	ai := NewAI(client)

	info, err := ai.Route(context.Background(), "how do i start", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}
	if info.AgentName != "coach" {
		t.Errorf("Expected coach, got %s", info.AgentName)
	}
}

func TestAIRouteUnknownAgent(t *testing.T) {
	client := &fakeClient{reply: `{"agent": "nobody", "reason": "x", "confidence": 0.5}`}
	ai := NewAI(client)

	_, err := ai.Route(context.Background(), "hello", roster())
	if err == nil {
		t.Error("Expected error for unknown agent name")
	}
}

func TestAIRouteConfidenceOutOfRange(t *testing.T) {
	client := &fakeClient{reply: `{"agent": "pal", "reason": "x", "confidence": 1.5}`}
	ai := NewAI(client)

	_, err := ai.Route(context.Background(), "hello", roster())
	if err == nil {
		t.Error("Expected error for out-of-range confidence")
	}
}

func TestFallbackUsesSecondaryOnFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream down")}
	strategy := NewFallback(NewAI(client), NewKeyword())

	info, err := strategy.Route(context.Background(), "I built a function but it throws an error", roster())
	if err != nil {
		t.Fatalf("Fallback routing failed: %v", err)
	}
	if info.AgentName != "builder" {
		t.Errorf("Expected keyword fallback to pick builder, got %s", info.AgentName)
	}
	if client.calls != 1 {
		t.Errorf("Expected exactly one primary attempt, got %d", client.calls)
	}
}

func TestFallbackPrefersPrimary(t *testing.T) {
	client := &fakeClient{reply: `{"agent": "debater", "reason": "opinion", "confidence": 0.9}`}
	strategy := NewFallback(NewAI(client), NewKeyword())

	info, err := strategy.Route(context.Background(), "I built a function but it throws an error", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}
	if info.AgentName != "debater" {
		t.Errorf("Expected primary result debater, got %s", info.AgentName)
	}
}
