// Package archive keeps local copies of conversations in a JSON file so they
// survive server-side expiry.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/csheth/chatterm/internal/remote"
	"github.com/csheth/chatterm/internal/render"
)

const (
	entryTypeConversation = "conversation"
	entryTypeExport       = "export"
)

type entryHeader struct {
	EntryType string `json:"entryType"`
}

// Snapshot is the archived state of one conversation.
type Snapshot struct {
	EntryType      string    `json:"entryType"`
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title"`
	FirstCaptured  time.Time `json:"firstCapturedAt"`
	CapturedAt     time.Time `json:"capturedAt"`
	Messages       []Message `json:"messages,omitempty"`
}

// Message is one archived turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Export records an HTML transcript written next to the archive.
type Export struct {
	EntryType      string    `json:"entryType"`
	ConversationID string    `json:"conversationId"`
	Path           string    `json:"path"`
	ExportedAt     time.Time `json:"exportedAt"`
}

// FromConversation builds a snapshot from engine state.
func FromConversation(conv remote.Conversation, messages []remote.Message, capturedAt time.Time) Snapshot {
	snap := Snapshot{
		EntryType:      entryTypeConversation,
		ConversationID: conv.ID,
		Title:          render.DisplayTitle(conv.Title),
		FirstCaptured:  capturedAt,
		CapturedAt:     capturedAt,
		Messages:       make([]Message, 0, len(messages)),
	}
	for _, msg := range messages {
		snap.Messages = append(snap.Messages, Message{Role: string(msg.Role), Content: msg.Content, CreatedAt: msg.CreatedAt})
	}
	return snap
}

// Save upserts snap by conversation id. Messages are replaced wholesale and
// the first capture time is kept. It reports whether a new entry was added.
func Save(path string, snap Snapshot) (bool, error) {
	if path == "" || snap.ConversationID == "" {
		return false, errors.New("archive: path and conversation id are required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	entries, err := loadEntries(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	snap.EntryType = entryTypeConversation
	for i, raw := range entries {
		entryType, err := detectEntryType(raw)
		if err != nil {
			return false, err
		}
		if entryType != entryTypeConversation {
			continue
		}
		var existing Snapshot
		if err := json.Unmarshal(raw, &existing); err != nil {
			return false, err
		}
		if existing.ConversationID != snap.ConversationID {
			continue
		}
		if !existing.FirstCaptured.IsZero() {
			snap.FirstCaptured = existing.FirstCaptured
		}
		raw, err = json.Marshal(snap)
		if err != nil {
			return false, err
		}
		entries[i] = raw
		return false, writeEntries(path, entries)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}
	return true, writeEntries(path, append(entries, raw))
}

// Load returns every archived conversation. A missing file is empty.
func Load(path string) ([]Snapshot, error) {
	entries, err := loadEntries(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Snapshot{}, nil
		}
		return nil, err
	}
	snapshots := make([]Snapshot, 0, len(entries))
	for _, raw := range entries {
		entryType, err := detectEntryType(raw)
		if err != nil {
			return nil, err
		}
		if entryType != entryTypeConversation {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// Exports lists the recorded HTML exports.
func Exports(path string) ([]Export, error) {
	entries, err := loadEntries(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Export{}, nil
		}
		return nil, err
	}
	exports := make([]Export, 0)
	for _, raw := range entries {
		entryType, err := detectEntryType(raw)
		if err != nil {
			return nil, err
		}
		if entryType != entryTypeExport {
			continue
		}
		var export Export
		if err := json.Unmarshal(raw, &export); err != nil {
			return nil, err
		}
		exports = append(exports, export)
	}
	return exports, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ExportPath picks the HTML file name for a conversation, next to the archive.
func ExportPath(archivePath string, conv remote.Conversation) string {
	slug := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(render.DisplayTitle(conv.Title)), "-"), "-")
	if slug == "" {
		slug = "conversation"
	}
	id := conv.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(filepath.Dir(archivePath), fmt.Sprintf("chatterm-%s-%s.html", slug, id))
}

// WriteExport renders the conversation to HTML, writes it next to the archive
// and records the export. It returns the written path.
func WriteExport(archivePath string, conv remote.Conversation, messages []remote.Message, exportedAt time.Time) (string, error) {
	target := ExportPath(archivePath, conv)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	title := render.DisplayTitle(conv.Title)
	doc := fmt.Sprintf("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s\n</body></html>\n",
		htmlTitle(title), render.HTMLTranscript(conv.Title, messages))
	if err := os.WriteFile(target, []byte(doc), 0o644); err != nil {
		return "", err
	}

	entries, err := loadEntries(archivePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return target, err
	}
	raw, err := json.Marshal(Export{EntryType: entryTypeExport, ConversationID: conv.ID, Path: target, ExportedAt: exportedAt})
	if err != nil {
		return target, err
	}
	return target, writeEntries(archivePath, append(entries, raw))
}

func htmlTitle(title string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(title)
}

func writeEntries(path string, entries []json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadEntries(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("archive: %s is not a JSON array: %w", path, err)
	}
	return entries, nil
}

func detectEntryType(raw json.RawMessage) (string, error) {
	var header entryHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", err
	}
	return header.EntryType, nil
}
