package mention

import (
	"strings"
	"testing"

	"github.com/lumenlms/tutorkit/registry"
)

func roster() []*registry.Agent {
	return []*registry.Agent{
		{ID: "a1", Name: "helper", DisplayName: "Helper Tutor", Active: true},
		{ID: "a2", Name: "sage", DisplayName: "Professor Sage", Active: true},
		{ID: "a3", Name: "builder", DisplayName: "Builder", Active: true},
	}
}

func TestParseDoubleQuoted(t *testing.T) {
	agents := Parse(`@"Helper Tutor" explain recursion`, roster())
	if len(agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(agents))
	}
	if agents[0].ID != "a1" {
		t.Errorf("Expected agent a1, got %s", agents[0].ID)
	}
}

func TestParseSingleQuoted(t *testing.T) {
	agents := Parse(`@'professor sage' what is a monad?`, roster())
	if len(agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(agents))
	}
	if agents[0].ID != "a2" {
		t.Errorf("Expected agent a2, got %s", agents[0].ID)
	}
}

func TestParseBareToken(t *testing.T) {
	agents := Parse("@builder my loop is broken", roster())
	if len(agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(agents))
	}
	if agents[0].ID != "a3" {
		t.Errorf("Expected agent a3, got %s", agents[0].ID)
	}
}

func TestParsePartialNameResolves(t *testing.T) {
	// bidirectional substring match: "help" is contained in "helper"
	agents := Parse("@help me out", roster())
	if len(agents) != 1 {
		t.Fatalf("Expected 1 agent, got %d", len(agents))
	}
	if agents[0].ID != "a1" {
		t.Errorf("Expected agent a1, got %s", agents[0].ID)
	}
}

func TestParseMultipleReturnsRosterOrder(t *testing.T) {
	agents := Parse("@builder and @sage, compare notes", roster())
	if len(agents) != 2 {
		t.Fatalf("Expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "a2" || agents[1].ID != "a3" {
		t.Errorf("Expected roster order a2, a3; got %s, %s", agents[0].ID, agents[1].ID)
	}
}

func TestParseNoMentions(t *testing.T) {
	agents := Parse("plain question with no addressing", roster())
	if len(agents) != 0 {
		t.Errorf("Expected no agents, got %d", len(agents))
	}
}

func TestStripRemovesAllForms(t *testing.T) {
	stripped := Strip(`@"Helper Tutor" explain recursion`)

	if strings.Contains(stripped, "@") {
		t.Errorf("Expected no @ tokens after strip, got %q", stripped)
	}
	if stripped != "explain recursion" {
		t.Errorf("Expected 'explain recursion', got %q", stripped)
	}
}

func TestStripPreservesWordOrder(t *testing.T) {
	stripped := Strip(`please @'Professor Sage' tell @builder why recursion terminates`)

	want := "please tell why recursion terminates"
	if stripped != want {
		t.Errorf("Expected %q, got %q", want, stripped)
	}
}

func TestStripCollapsesWhitespace(t *testing.T) {
	stripped := Strip("@sage   @builder   hello")
	if stripped != "hello" {
		t.Errorf("Expected 'hello', got %q", stripped)
	}
}
