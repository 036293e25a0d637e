// Package tuitest runs the chatterm binary inside a pseudo terminal, replays
// scripted keystrokes and records what was drawn.
package tuitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/csheth/chatterm/internal/render"
)

const (
	defaultWidth   = 120
	defaultHeight  = 32
	defaultTimeout = 10 * time.Second
	pollInterval   = 25 * time.Millisecond
)

// Step is one scripted interaction. WaitFor blocks until the text has been
// drawn, Delay then pauses, and Input is written last.
type Step struct {
	WaitFor string
	Delay   time.Duration
	Input   []byte
}

// Config configures how the harness spawns and drives the program.
type Config struct {
	Command          []string
	Dir              string
	Env              []string
	Width            int
	Height           int
	Steps            []Step
	Timeout          time.Duration
	AllowedExitCodes []int
	AllowInterrupt   bool
}

// Recording holds the raw terminal stream plus parsed frames.
type Recording struct {
	Raw      []byte
	Frames   []Frame
	Duration time.Duration
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *lockedBuffer) contains(text string) bool {
	return strings.Contains(render.SanitizeTerminal(strings.ReplaceAll(string(b.Bytes()), "\r", "")), text)
}

// Run executes the command inside a PTY, replays the steps and captures every
// byte written to the terminal until the program exits.
func Run(ctx context.Context, cfg Config) (*Recording, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("tuitest: command is required")
	}
	width, height, timeout := cfg.Width, cfg.Height, cfg.Timeout
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = buildEnv(cfg.Env)

	allowedCodes := map[int]struct{}{0: {}}
	for _, code := range cfg.AllowedExitCodes {
		allowedCodes[code] = struct{}{}
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(height), Cols: uint16(width)})
	if err != nil {
		return nil, fmt.Errorf("tuitest: start program: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	output := &lockedBuffer{}
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		responder := newTerminalResponder(ptmx)
		buf := make([]byte, 4096)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				responder.Process(chunk)
				_, _ = output.Write(chunk)
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	start := time.Now()
	exited := false
	var exitErr error
	for _, step := range cfg.Steps {
		if step.WaitFor != "" {
			if err := waitForText(ctx, output, step.WaitFor, waitErr, copyDone, &exited, &exitErr); err != nil {
				return nil, err
			}
		}
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("tuitest: context cancelled before script finished: %w", ctx.Err())
			case <-time.After(step.Delay):
			}
		}
		if len(step.Input) > 0 && !exited {
			if _, err := ptmx.Write(step.Input); err != nil {
				return nil, fmt.Errorf("tuitest: write input: %w", err)
			}
		}
	}

	if !exited {
		select {
		case exitErr = <-waitErr:
		case <-ctx.Done():
			return nil, fmt.Errorf("tuitest: timeout waiting for program exit: %w", ctx.Err())
		}
	}
	if err := checkExit(exitErr, allowedCodes, cfg.AllowInterrupt); err != nil {
		return nil, err
	}

	// Closing the PTY lets the reader goroutine finish draining.
	_ = ptmx.Close()
	<-copyDone

	raw := output.Bytes()
	return &Recording{Raw: raw, Frames: parseFrames(raw), Duration: time.Since(start)}, nil
}

func waitForText(ctx context.Context, output *lockedBuffer, text string, waitErr <-chan error, drained <-chan struct{}, exited *bool, exitErr *error) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if output.contains(text) {
			return nil
		}
		if *exited {
			// The last frame may still be in the PTY when the process is reaped.
			select {
			case <-drained:
			case <-ctx.Done():
			}
			if output.contains(text) {
				return nil
			}
			return fmt.Errorf("tuitest: program exited before drawing %q", text)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("tuitest: waiting for %q: %w", text, ctx.Err())
		case err := <-waitErr:
			*exited = true
			*exitErr = err
		case <-ticker.C:
		}
	}
}

func checkExit(err error, allowed map[int]struct{}, allowInterrupt bool) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if _, ok := allowed[exitErr.ExitCode()]; ok {
			return nil
		}
	}
	if allowInterrupt && strings.Contains(err.Error(), "signal: interrupt") {
		return nil
	}
	return fmt.Errorf("tuitest: program exited with error: %w", err)
}

func buildEnv(extra []string) []string {
	env := append(os.Environ(), extra...)
	for _, entry := range env {
		if strings.HasPrefix(entry, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}

// Type turns text into keystrokes.
func Type(text string) []byte {
	return []byte(text)
}

var (
	KeyEnter = []byte{'\r'}
	KeyTab   = []byte{'\t'}
	KeyEsc   = []byte{27}
	KeyCtrlC = []byte{3}
	KeyCtrlD = []byte{4}
	KeyCtrlN = []byte{14}
	KeyCtrlR = []byte{18}
	KeyCtrlT = []byte{20}
)
