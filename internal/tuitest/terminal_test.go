package tuitest

import (
	"bytes"
	"testing"
)

func TestTerminalResponderAnswersQueries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{name: "cursor position", chunks: []string{"hello\x1b[6n"}, want: "\x1b[1;1R"},
		{name: "split across reads", chunks: []string{"\x1b]11", ";?\x07"}, want: "\x1b]11;rgb:0000/0000/0000\x07"},
		{name: "in order", chunks: []string{"\x1b]10;?\x07x\x1b[6n"}, want: "\x1b]10;rgb:cccc/cccc/cccc\x07\x1b[1;1R"},
		{name: "nothing to answer", chunks: []string{"plain output"}, want: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			tr := newTerminalResponder(&out)
			for _, chunk := range tc.chunks {
				tr.Process([]byte(chunk))
			}
			if got := out.String(); got != tc.want {
				t.Fatalf("replies = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseFramesSplitsOnClear(t *testing.T) {
	t.Parallel()

	raw := []byte("\x1b[2J\x1b[Hfirst   \r\n\x1b[1mbold\x1b[0m\x1b[2J\x1b[Hsecond\r\n\r\n")
	frames := parseFrames(raw)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2: %#v", len(frames), frames)
	}
	if frames[0].Plain != "first\nbold" {
		t.Fatalf("first frame = %q", frames[0].Plain)
	}
	rec := &Recording{Raw: raw, Frames: frames}
	last, ok := rec.FinalFrame()
	if !ok || last.Plain != "second" {
		t.Fatalf("final frame = %q, %v", last.Plain, ok)
	}
	if !rec.Contains("bold") || rec.Contains("\x1b") {
		t.Fatalf("plain output = %q", rec.Plain())
	}
}
