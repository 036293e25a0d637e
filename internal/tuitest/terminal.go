package tuitest

import (
	"bytes"
	"io"
)

// queryReply pairs a terminal query the program may emit with the answer a
// real terminal would give. bubbletea and termenv block on some of these.
type queryReply struct {
	query []byte
	reply []byte
}

var terminalReplies = []queryReply{
	{query: []byte("\x1b[6n"), reply: []byte("\x1b[1;1R")},
	{query: []byte("\x1b]10;?\x07"), reply: []byte("\x1b]10;rgb:cccc/cccc/cccc\x07")},
	{query: []byte("\x1b]10;?\x1b\\"), reply: []byte("\x1b]10;rgb:cccc/cccc/cccc\x1b\\")},
	{query: []byte("\x1b]11;?\x07"), reply: []byte("\x1b]11;rgb:0000/0000/0000\x07")},
	{query: []byte("\x1b]11;?\x1b\\"), reply: []byte("\x1b]11;rgb:0000/0000/0000\x1b\\")},
}

const (
	pendingLimit = 256
	pendingKeep  = 64
)

// terminalResponder watches program output and writes replies back to the PTY.
type terminalResponder struct {
	w       io.Writer
	pending []byte
}

func newTerminalResponder(w io.Writer) *terminalResponder {
	return &terminalResponder{w: w, pending: make([]byte, 0, pendingLimit)}
}

// Process scans a chunk of output. A short tail is kept between calls so a
// query split across two reads is still answered.
func (tr *terminalResponder) Process(chunk []byte) {
	tr.pending = append(tr.pending, chunk...)
	for tr.answerNext() {
	}
	if len(tr.pending) > pendingLimit {
		tr.pending = append(tr.pending[:0], tr.pending[len(tr.pending)-pendingKeep:]...)
	}
}

// answerNext replies to the earliest query in the buffer and drops everything
// up to its end.
func (tr *terminalResponder) answerNext() bool {
	first, end := -1, 0
	var reply []byte
	for _, qr := range terminalReplies {
		idx := bytes.Index(tr.pending, qr.query)
		if idx < 0 || (first >= 0 && idx >= first) {
			continue
		}
		first, end, reply = idx, idx+len(qr.query), qr.reply
	}
	if first < 0 {
		return false
	}
	tr.pending = tr.pending[end:]
	_, _ = tr.w.Write(reply)
	return true
}
