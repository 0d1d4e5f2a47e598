package routing

import (
	"context"
	"reflect"
	"testing"

	"github.com/lumenlms/tutorkit/registry"
)

func roster() []*registry.Agent {
	return []*registry.Agent{
		{ID: "a1", Name: "pal", Description: "casual chat and small talk", Active: true},
		{ID: "a2", Name: "mentor", Description: "patient emotional support for struggling learners", Active: true},
		{ID: "a3", Name: "sage", Description: "deep conceptual explanations", Active: true},
		{ID: "a4", Name: "coach", Description: "step by step procedural guidance", Active: true},
		{ID: "a5", Name: "builder", Description: "hands-on project work and debugging", Active: true},
		{ID: "a6", Name: "debater", Description: "opinionated discussion partner", Active: true},
		{ID: "a7", Name: "cheer", Description: "encouragement for beginners", Active: true},
	}
}

func TestKeywordIsPure(t *testing.T) {
	k := NewKeyword()
	text := "I'm so frustrated, why does my project crash?"

	first, err := k.Route(context.Background(), text, roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}
	second, err := k.Route(context.Background(), text, roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Keyword routing is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDistressRoutesToSupportAgents(t *testing.T) {
	k := NewKeyword()

	info, err := k.Route(context.Background(), "I'm so frustrated with this exercise", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	if info.AgentName != "mentor" && info.AgentName != "cheer" {
		t.Errorf("Expected an emotional support agent, got %s", info.AgentName)
	}
	if info.Confidence < 0.6 {
		t.Errorf("Expected confidence >= 0.6, got %g", info.Confidence)
	}
}

func TestDebuggingMessageRoutesToBuilder(t *testing.T) {
	k := NewKeyword()

	info, err := k.Route(context.Background(), "I built a function but it throws an error", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	if info.AgentName != "builder" {
		t.Errorf("Expected builder, got %s", info.AgentName)
	}
	if info.Confidence < 0.8 {
		t.Errorf("Expected confidence >= 0.8, got %g", info.Confidence)
	}
	if !containsAny(info.Reason, "practical", "technical") {
		t.Errorf("Expected reason to mention practical/technical work, got %q", info.Reason)
	}
}

func TestNoRuleFiresSelectsFirstAgent(t *testing.T) {
	k := NewKeyword()

	info, err := k.Route(context.Background(), "zzz qqq", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	if info.AgentID != "a1" {
		t.Errorf("Expected first-registered agent a1, got %s", info.AgentID)
	}
	if info.Confidence != BaselineScore {
		t.Errorf("Expected baseline confidence %g, got %g", BaselineScore, info.Confidence)
	}
}

func TestScoreIsCapped(t *testing.T) {
	k := NewKeyword()
	// fires the builder rule several times over plus description matches
	text := "I built my project but my code has a bug, an error, a crash, and debugging my function doesn't work"

	ranked, _ := k.Rank(text, roster())
	for _, score := range ranked {
		if score.Score > MaxScore {
			t.Errorf("Agent %s score %g exceeds cap %g", score.AgentName, score.Score, MaxScore)
		}
	}
}

func TestAlternativesSortedDescending(t *testing.T) {
	k := NewKeyword()

	info, err := k.Route(context.Background(), "how do i debug my project", roster())
	if err != nil {
		t.Fatalf("Routing failed: %v", err)
	}

	prev := info.Confidence
	for _, alt := range info.Alternatives {
		if alt.Score > prev {
			t.Errorf("Alternatives not sorted descending: %g after %g", alt.Score, prev)
		}
		prev = alt.Score
	}
	if len(info.Alternatives) != len(roster())-1 {
		t.Errorf("Expected %d alternatives, got %d", len(roster())-1, len(info.Alternatives))
	}
}

func TestRouteEmptyRoster(t *testing.T) {
	k := NewKeyword()

	_, err := k.Route(context.Background(), "hello", nil)
	if err == nil {
		t.Error("Expected error for empty roster")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
	}
	return false
}
