package mention

import (
	"regexp"
	"strings"

	"github.com/lumenlms/tutorkit/registry"
)

// Recognized forms: @"quoted name", @'quoted name', and bare @token.
var (
	doubleQuoted = regexp.MustCompile(`@"([^"]+)"`)
	singleQuoted = regexp.MustCompile(`@'([^']+)'`)
	bareToken    = regexp.MustCompile(`@([\p{L}\p{N}_-]+)`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Parse extracts the agents explicitly addressed in text. Matching against
// the roster is case-insensitive and bidirectionally substring-based, so a
// partial mention like @helper resolves to "Helper Tutor". Each agent is
// returned at most once, in roster order.
func Parse(text string, agents []*registry.Agent) []*registry.Agent {
	tokens := extract(text)
	if len(tokens) == 0 {
		return nil
	}

	matched := make(map[string]bool)
	for _, token := range tokens {
		for _, ag := range agents {
			if matches(token, ag) {
				matched[ag.ID] = true
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}

	out := make([]*registry.Agent, 0, len(matched))
	for _, ag := range agents {
		if matched[ag.ID] {
			out = append(out, ag)
		}
	}
	return out
}

// Strip removes all mention forms from text and collapses the resulting
// whitespace, producing clean model input.
func Strip(text string) string {
	stripped := doubleQuoted.ReplaceAllString(text, " ")
	stripped = singleQuoted.ReplaceAllString(stripped, " ")
	stripped = bareToken.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(stripped, " "))
}

func extract(text string) []string {
	var tokens []string
	for _, m := range doubleQuoted.FindAllStringSubmatch(text, -1) {
		tokens = append(tokens, m[1])
	}
	remainder := doubleQuoted.ReplaceAllString(text, " ")
	for _, m := range singleQuoted.FindAllStringSubmatch(remainder, -1) {
		tokens = append(tokens, m[1])
	}
	remainder = singleQuoted.ReplaceAllString(remainder, " ")
	for _, m := range bareToken.FindAllStringSubmatch(remainder, -1) {
		tokens = append(tokens, m[1])
	}
	return tokens
}

func matches(token string, ag *registry.Agent) bool {
	needle := strings.ToLower(strings.TrimSpace(token))
	if needle == "" {
		return false
	}
	for _, candidate := range []string{ag.Name, ag.DisplayName} {
		hay := strings.ToLower(candidate)
		if hay == "" {
			continue
		}
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return true
		}
	}
	return false
}
