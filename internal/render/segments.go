// Package render turns raw message text into display-ready pieces.
package render

import (
	"regexp"
	"strings"
)

// Kind distinguishes prose from fenced code.
type Kind string

const (
	KindProse Kind = "prose"
	KindCode  Kind = "code"
)

// Segment is one contiguous run of a message. Language is empty when a code
// block carries no tag.
type Segment struct {
	Kind     Kind
	Language string
	Text     string
}

const fence = "```"

// DefaultTitle is shown for conversations without a usable title.
const DefaultTitle = "New Conversation"

var languageTag = regexp.MustCompile(`^\w+$`)

// Parse splits raw on triple-backtick fences. Pieces at odd positions are
// code, the rest prose. An unterminated final fence still yields a code
// segment; malformed input never fails.
func Parse(raw string) []Segment {
	parts := strings.Split(raw, fence)
	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if i%2 == 0 {
			segments = append(segments, Segment{Kind: KindProse, Text: part})
			continue
		}
		segments = append(segments, codeSegment(part))
	}
	return segments
}

func codeSegment(body string) Segment {
	newline := strings.IndexByte(body, '\n')
	if newline < 0 {
		return Segment{Kind: KindCode, Text: body}
	}
	first := strings.TrimSuffix(body[:newline], "\r")
	if !languageTag.MatchString(first) {
		return Segment{Kind: KindCode, Text: body}
	}
	return Segment{Kind: KindCode, Language: first, Text: body[newline+1:]}
}

// DisplayTitle strips surrounding double quotes and whitespace and falls back
// to DefaultTitle. The stored title is left untouched.
func DisplayTitle(title string) string {
	cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if cleaned == "" {
		return DefaultTitle
	}
	return cleaned
}
