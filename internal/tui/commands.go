package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/chatterm/internal/archive"
	"github.com/csheth/chatterm/internal/attach"
	"github.com/csheth/chatterm/internal/remote"
)

type archiveResultMsg struct {
	conversationID string
	title          string
	added          bool
	err            error
}

type exportResultMsg struct {
	conversationID string
	path           string
	err            error
}

type attachResultMsg struct {
	attachment attach.Attachment
	err        error
}

func archiveJob(path string, conv remote.Conversation, messages []remote.Message, capturedAt time.Time) jobRunner {
	snap := archive.FromConversation(conv, messages, capturedAt)
	return func(ctx context.Context) (tea.Msg, error) {
		if err := ctx.Err(); err != nil {
			return archiveResultMsg{conversationID: conv.ID, err: err}, err
		}
		added, err := archive.Save(path, snap)
		return archiveResultMsg{conversationID: conv.ID, title: snap.Title, added: added, err: err}, err
	}
}

func exportJob(archivePath string, conv remote.Conversation, messages []remote.Message, exportedAt time.Time) jobRunner {
	toWrite := append([]remote.Message(nil), messages...)
	return func(ctx context.Context) (tea.Msg, error) {
		if err := ctx.Err(); err != nil {
			return exportResultMsg{conversationID: conv.ID, err: err}, err
		}
		target, err := archive.WriteExport(archivePath, conv, toWrite, exportedAt)
		return exportResultMsg{conversationID: conv.ID, path: target, err: err}, err
	}
}

func attachJob(path string, limit int) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		if err := ctx.Err(); err != nil {
			return attachResultMsg{err: err}, err
		}
		attachment, err := attach.LoadPDF(path, limit)
		return attachResultMsg{attachment: attachment, err: err}, err
	}
}

// parseAttachCommand returns the path of a "/pdf <path>" draft.
func parseAttachCommand(draft string) (string, bool) {
	draft = strings.TrimSpace(draft)
	if !strings.HasPrefix(draft, attachCommandPrefix) {
		return "", false
	}
	path := strings.TrimSpace(strings.TrimPrefix(draft, attachCommandPrefix))
	path = strings.Trim(path, `"'`)
	return path, path != ""
}

func mergeDraft(draft, addition string) string {
	draft = strings.TrimSpace(draft)
	addition = strings.TrimSpace(addition)
	switch {
	case draft == "":
		return addition
	case addition == "":
		return draft
	default:
		return draft + " " + addition
	}
}
