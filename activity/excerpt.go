package activity

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExcerptLen bounds the message excerpt stored on an event.
const DefaultExcerptLen = 200

var reSpaces = regexp.MustCompile(`\s+`)

// Excerpt normalizes message content for event records: HTML markup is
// reduced to its text (rich-lesson content can leak into chat input),
// whitespace is collapsed, and the result is truncated to max runes.
func Excerpt(content string, max int) string {
	if max <= 0 {
		max = DefaultExcerptLen
	}

	text := content
	if strings.Contains(content, "<") && strings.Contains(content, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			text = doc.Text()
		}
	}

	text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
