// Package record captures voice input and turns it into draft text through
// the transcription service.
package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/config"
)

// State is the recorder's position in Idle -> Recording -> Uploading -> Idle.
type State int

const (
	Idle State = iota
	Recording
	Uploading
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Uploading:
		return "uploading"
	default:
		return "idle"
	}
}

var (
	ErrCaptureUnavailable  = errors.New("record: capture device unavailable")
	ErrEmptyRecording      = errors.New("record: nothing was captured")
	ErrUnsupportedLanguage = errors.New("record: unsupported language")
)

const defaultTimeout = 2 * time.Minute

// Device hands out capture handles. Only one handle is open at a time.
type Device interface {
	Open() (Capture, error)
}

// Capture is an open recording. Finish stops it and returns the audio; Close
// releases it and is safe to call more than once.
type Capture interface {
	Finish() ([]byte, error)
	Close() error
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

type Options struct {
	Device      Device
	Transcriber Transcriber
	Language    string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Outcome is the result of one recording session. On success Transcript
// replaces the draft; on failure the draft stays as it was.
type Outcome struct {
	Transcript string
	Err        error
}

type uploadedMsg struct {
	generation uint64
	text       string
	err        error
}

// Recorder owns the single recording session.
type Recorder struct {
	device      Device
	transcriber Transcriber
	timeout     time.Duration
	log         *zap.Logger

	language   string
	state      State
	capture    Capture
	generation uint64
}

func New(opts Options) *Recorder {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	language := strings.ToLower(strings.TrimSpace(opts.Language))
	if !config.IsSupportedLanguage(language) {
		language = config.SupportedLanguages[0]
	}
	return &Recorder{
		device:      opts.Device,
		transcriber: opts.Transcriber,
		timeout:     opts.Timeout,
		log:         opts.Logger.Named("record"),
		language:    language,
	}
}

func (r *Recorder) State() State { return r.state }

// InputLocked reports whether the draft must stay read-only.
func (r *Recorder) InputLocked() bool { return r.state != Idle }

func (r *Recorder) Language() string { return r.language }

func (r *Recorder) SetLanguage(language string) error {
	language = strings.ToLower(strings.TrimSpace(language))
	if !config.IsSupportedLanguage(language) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	r.language = language
	return nil
}

// ToggleLanguage cycles through the supported languages.
func (r *Recorder) ToggleLanguage() string {
	langs := config.SupportedLanguages
	for i, lang := range langs {
		if lang == r.language {
			r.language = langs[(i+1)%len(langs)]
			return r.language
		}
	}
	r.language = langs[0]
	return r.language
}

// Start opens a capture handle. It does nothing unless the recorder is idle.
// A device failure leaves the recorder idle.
func (r *Recorder) Start() error {
	if r.state != Idle {
		return nil
	}
	if r.device == nil {
		return ErrCaptureUnavailable
	}
	capture, err := r.device.Open()
	if err != nil {
		r.log.Warn("capture device failed", zap.Error(err))
		if errors.Is(err, ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	r.capture = capture
	r.state = Recording
	r.log.Debug("recording started", zap.String("language", r.language))
	return nil
}

// Stop ends the recording and uploads it. The returned command finishes the
// capture, closes it whatever happens, and transcribes the audio. Stop does
// nothing unless the recorder is recording.
func (r *Recorder) Stop() tea.Cmd {
	if r.state != Recording {
		return nil
	}
	capture := r.capture
	r.capture = nil
	r.state = Uploading
	r.generation++
	generation := r.generation
	transcriber, language, timeout, log := r.transcriber, r.language, r.timeout, r.log

	return func() tea.Msg {
		audio, err := finish(capture)
		if err != nil {
			return uploadedMsg{generation: generation, err: err}
		}
		if transcriber == nil {
			return uploadedMsg{generation: generation, err: errors.New("record: no transcription service configured")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		filename := fmt.Sprintf("recording-%d.wav", time.Now().Unix())
		text, err := transcriber.Transcribe(ctx, audio, filename, language)
		if err != nil {
			return uploadedMsg{generation: generation, err: fmt.Errorf("record: transcription failed: %w", err)}
		}
		log.Debug("transcription received", zap.Int("audio_bytes", len(audio)), zap.Int("chars", len(text)))
		return uploadedMsg{generation: generation, text: text}
	}
}

func finish(capture Capture) (audio []byte, err error) {
	defer func() {
		if closeErr := capture.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("record: release capture: %w", closeErr)
		}
	}()
	audio, err = capture.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyRecording
	}
	return audio, nil
}

// Cancel abandons the session. A recording is released without uploading and
// an upload in flight is ignored when it returns.
func (r *Recorder) Cancel() {
	switch r.state {
	case Recording:
		if err := r.capture.Close(); err != nil {
			r.log.Warn("release capture", zap.Error(err))
		}
		r.capture = nil
	case Uploading:
		r.generation++
	default:
		return
	}
	r.state = Idle
	r.log.Debug("recording cancelled")
}

// Update consumes the upload result. The boolean is false for messages that
// are not for the recorder or belong to a cancelled session.
func (r *Recorder) Update(msg tea.Msg) (Outcome, bool) {
	uploaded, ok := msg.(uploadedMsg)
	if !ok {
		return Outcome{}, false
	}
	if uploaded.generation != r.generation || r.state != Uploading {
		r.log.Debug("discarding stale upload result")
		return Outcome{}, false
	}
	r.state = Idle
	if uploaded.err != nil {
		r.log.Warn("recording failed", zap.Error(uploaded.err))
		return Outcome{Err: uploaded.err}, true
	}
	return Outcome{Transcript: strings.TrimSpace(uploaded.text)}, true
}
