package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/csheth/chatterm/internal/record"
	"github.com/csheth/chatterm/internal/render"
)

func (m *model) View() string {
	if m.quitting {
		if m.exitMessage == "" {
			return ""
		}
		return errorStyle.Render(m.exitMessage) + "\n"
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), " ", m.viewport.View())
	return joinNonEmpty([]string{m.headerView(), body, m.noticeView(), m.composerPanel(), m.statusBarView()})
}

func (m *model) headerView() string {
	return lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("chatterm"),
		taglineStyle.Render("  "+heroTagline),
	)
}

func (m *model) sidebarView() string {
	convs := m.engine.Conversations()
	active := m.engine.Active()
	width := m.layout.sidebarWidth - 2
	rows := make([]string, 0, len(convs))
	focus := 0
	for idx, conv := range convs {
		marker := "  "
		style := sidebarItemStyle
		if conv.ID == active {
			marker = "▸ "
			style = sidebarActiveStyle
			focus = idx
		}
		suffix := ""
		if m.engine.Pending(conv.ID) {
			suffix = " …"
		}
		title := previewText(conversationTitle(conv), width-len([]rune(marker+suffix)))
		rows = append(rows, style.Render(marker+title+suffix))
	}

	lines := []string{sectionHeaderStyle.Render("Conversations")}
	if len(rows) == 0 {
		lines = append(lines, helperStyle.Render("none yet"))
	}
	start, end := visibleWindow(len(rows), focus, m.viewport.Height-1)
	lines = append(lines, rows[start:end]...)
	return sidebarStyle.Width(m.layout.sidebarWidth).Height(m.viewport.Height).Render(strings.Join(lines, "\n"))
}

func (m *model) noticeView() string {
	if m.errorMessage != "" {
		return errorStyle.Render(m.errorMessage)
	}
	if m.infoMessage == "" {
		return ""
	}
	message := m.infoMessage
	if m.busy() {
		message = fmt.Sprintf("%s %s", m.spinner.View(), message)
	}
	return helperStyle.Render(message)
}

func (m *model) composerPanel() string {
	switch m.stage {
	case stageRename:
		return joinLines(
			sectionHeaderStyle.Render("Rename conversation"),
			m.prompt.View(),
			helperStyle.Render("Enter: save • Esc: cancel"),
		)
	case stageConfirmDelete:
		title := "this conversation"
		if conv, ok := m.engine.Conversation(m.deleteTarget); ok {
			title = fmt.Sprintf("%q", conversationTitle(conv))
		}
		return joinLines(
			errorStyle.Render(fmt.Sprintf("Delete %s?", title)),
			helperStyle.Render("y: delete • n/Esc: keep"),
		)
	default:
		return joinLines(m.composer.View(), helperStyle.Render(m.composerHelpText()))
	}
}

func (m *model) composerHelpText() string {
	switch m.recorder.State() {
	case record.Recording:
		return "ctrl+t: stop and transcribe • Esc: discard recording"
	case record.Uploading:
		return "Transcribing… Esc: discard"
	}
	return "Enter: send • ctrl+t: record • ctrl+n: new • tab: switch • ctrl+c: quit"
}

func (m *model) statusBarView() string {
	stats := []string{
		fmt.Sprintf("%d conversations", len(m.engine.Conversations())),
		"mic " + m.recorder.State().String(),
		"lang " + strings.ToUpper(m.recorder.Language()),
	}
	if account := m.accountBadge(); account != "" {
		stats = append(stats, account)
	}
	stats = append(stats, m.jobStatusBadges()...)
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) accountBadge() string {
	cred := m.config.Credential
	if cred.Empty() {
		return ""
	}
	badge := "signed in"
	if subject := cred.Subject(); subject != "" {
		badge = "as " + render.SanitizeTerminal(subject)
	}
	if expires, ok := cred.ExpiresAt(); ok {
		if !m.config.Now().Before(expires) {
			return badge + " (token expired)"
		}
		badge += " until " + expires.Local().Format("Jan 2 15:04")
	}
	return badge
}

func (m *model) jobStatusBadges() []string {
	kinds := make([]string, 0, len(m.runningJobs))
	for kind, count := range m.runningJobs {
		if count > 0 {
			kinds = append(kinds, string(kind))
		}
	}
	sort.Strings(kinds)
	badges := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		badges = append(badges, kind+"…")
	}
	return badges
}

type keyHint struct {
	Key         string
	Description string
}

func (m *model) keyLegendView() string {
	hints := []keyHint{
		{"ctrl+n", "New"},
		{"ctrl+r", "Rename"},
		{"ctrl+d", "Delete"},
		{"tab", "Next"},
		{"shift+tab", "Previous"},
		{"enter", "Send"},
		{"ctrl+t", "Record"},
		{"ctrl+l", "Language"},
		{"ctrl+s", "Archive"},
		{"ctrl+e", "Export HTML"},
		{"esc", "Cancel"},
		{"ctrl+c", "Quit"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Width(14).Render(" " + hint.Description)
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n\n")
}

func joinLines(parts ...string) string {
	return strings.Join(parts, "\n")
}
