package render

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	csiSequence   = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	oscSequence   = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)?`)
	escapeGeneric = regexp.MustCompile(`\x1b[@-Z\\-_]?`)
)

// SanitizeTerminal removes escape sequences and control characters so remote
// text cannot move the cursor, retitle the window or recolor the screen.
// Newlines and tabs survive.
func SanitizeTerminal(text string) string {
	if text == "" {
		return text
	}
	text = oscSequence.ReplaceAllString(text, "")
	text = csiSequence.ReplaceAllString(text, "")
	text = escapeGeneric.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
