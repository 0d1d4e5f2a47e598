package prompt

import (
	"fmt"
	"strings"

	"github.com/lumenlms/tutorkit/registry"
)

// DefaultReplyBudget is the response-length budget stated in the behavioral
// contract, in characters (roughly two to three sentences).
const DefaultReplyBudget = 500

// BuildSystem assembles the system instruction for an agent: its persona
// followed by the fixed behavioral contract and any "do"/"don't" rules from
// the agent's configuration.
func BuildSystem(ag *registry.Agent, replyBudget int) string {
	if replyBudget <= 0 {
		replyBudget = DefaultReplyBudget
	}

	var b strings.Builder
	if persona := strings.TrimSpace(ag.Persona); persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Address the learner directly. Never prefix your reply with your own name or any speaker label. Keep replies under %d characters, about two to three sentences. Avoid heavy markdown formatting.", replyBudget)

	do, dont := ag.Rules()
	if len(do) > 0 {
		b.WriteString("\n\nDo:\n")
		for _, rule := range do {
			b.WriteString("- " + rule + "\n")
		}
	}
	if len(dont) > 0 {
		b.WriteString("\nDon't:\n")
		for _, rule := range dont {
			b.WriteString("- " + rule + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
