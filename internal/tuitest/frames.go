package tuitest

import (
	"regexp"
	"strings"

	"github.com/csheth/chatterm/internal/render"
)

// Frame is one normalized terminal render.
type Frame struct {
	Index int
	ANSI  string
	Plain string
}

var frameSeparator = regexp.MustCompile(`\x1b\[[0-9;]*J`)

func parseFrames(raw []byte) []Frame {
	cleaned := strings.ReplaceAll(string(raw), "\r", "")
	segments := frameSeparator.Split(cleaned, -1)
	frames := make([]Frame, 0, len(segments))
	for _, segment := range segments {
		segment = strings.TrimPrefix(strings.Trim(segment, "\x00"), "\x1b[H")
		plain := render.SanitizeTerminal(segment)
		if strings.TrimSpace(plain) == "" {
			continue
		}
		frames = append(frames, Frame{Index: len(frames), ANSI: segment, Plain: normalizeLines(plain)})
	}
	if len(frames) == 0 && len(cleaned) > 0 {
		frames = append(frames, Frame{ANSI: cleaned, Plain: normalizeLines(render.SanitizeTerminal(cleaned))})
	}
	return frames
}

// FinalFrame returns the last captured frame, or false when nothing was drawn.
func (r *Recording) FinalFrame() (Frame, bool) {
	if r == nil || len(r.Frames) == 0 {
		return Frame{}, false
	}
	return r.Frames[len(r.Frames)-1], true
}

// Plain is the whole session with escape sequences removed.
func (r *Recording) Plain() string {
	if r == nil {
		return ""
	}
	return render.SanitizeTerminal(strings.ReplaceAll(string(r.Raw), "\r", ""))
}

// Contains reports whether text was drawn at any point in the session.
func (r *Recording) Contains(text string) bool {
	return strings.Contains(r.Plain(), text)
}

func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
