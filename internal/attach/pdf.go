// Package attach pulls text out of local files so it can be dropped into the
// message draft.
package attach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrNotPDF = errors.New("attach: not a pdf file")
	ErrNoText = errors.New("attach: no extractable text")
)

var extraneousWhitespace = regexp.MustCompile(`\s+`)

// Attachment is text extracted from a file, ready for the draft.
type Attachment struct {
	Name      string
	Text      string
	Truncated bool
}

// Draft renders the attachment as draft text.
func (a Attachment) Draft() string {
	return fmt.Sprintf("[%s]\n%s", a.Name, a.Text)
}

// LoadPDF extracts the text of a local PDF and clips it to limit runes.
func LoadPDF(path string, limit int) (Attachment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Attachment{}, errors.New("attach: path is required")
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return Attachment{}, fmt.Errorf("%w: %s", ErrNotPDF, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		return Attachment{}, err
	}
	text, err := ExtractPDF(path)
	if err != nil {
		return Attachment{}, err
	}
	clipped, truncated := Clip(text, limit)
	return Attachment{Name: filepath.Base(path), Text: clipped, Truncated: truncated}, nil
}

// ExtractPDF returns the plain text of a PDF with whitespace collapsed.
func ExtractPDF(path string) (text string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrNotPDF, r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return "", fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	defer file.Close()

	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	var builder strings.Builder
	if _, err := io.Copy(&builder, content); err != nil {
		return "", err
	}
	text = Normalize(builder.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Normalize collapses runs of whitespace into single spaces.
func Normalize(text string) string {
	return strings.TrimSpace(extraneousWhitespace.ReplaceAllString(text, " "))
}

// Clip shortens text to at most limit runes, preferring a word boundary, and
// marks the cut with an ellipsis. A non-positive limit disables clipping.
func Clip(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	cut := string(runes[:limit-1])
	if idx := strings.LastIndexByte(cut, ' '); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…", true
}
