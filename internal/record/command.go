package record

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCommand records 16 kHz mono WAV to stdout with ALSA.
var DefaultCommand = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-"}

const stopGrace = 3 * time.Second

// CommandDevice records by running an external program that writes audio to
// stdout until it is interrupted.
type CommandDevice struct {
	Command []string
}

func (d CommandDevice) Open() (Capture, error) {
	argv := d.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	cmd := exec.Command(path, argv[1:]...)
	capture := &commandCapture{cmd: cmd}
	cmd.Stdout = &capture.stdout
	cmd.Stderr = &capture.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	capture.done = make(chan struct{})
	go func() {
		capture.waitErr = cmd.Wait()
		close(capture.done)
	}()
	return capture, nil
}

type commandCapture struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// Finish interrupts the recorder so it can flush, then waits for it.
func (c *commandCapture) Finish() ([]byte, error) {
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return nil, err
	}
	select {
	case <-c.done:
	case <-time.After(stopGrace):
		_ = c.cmd.Process.Kill()
		<-c.done
	}
	audio := c.stdout.Bytes()
	if len(audio) == 0 {
		if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
			return nil, errors.New(msg)
		}
		if c.waitErr != nil {
			return nil, c.waitErr
		}
	}
	return audio, nil
}

// Close kills the process if it is still running and waits for it to exit.
func (c *commandCapture) Close() error {
	c.once.Do(func() {
		select {
		case <-c.done:
		default:
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	})
	return nil
}
