package tui

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/chatterm/internal/remote"
	"github.com/csheth/chatterm/internal/render"
)

type pageLayout struct {
	windowWidth    int
	windowHeight   int
	sidebarWidth   int
	viewportWidth  int
	viewportHeight int
}

func newPageLayout() pageLayout {
	return pageLayout{
		sidebarWidth:   24,
		viewportWidth:  72,
		viewportHeight: 16,
	}
}

func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height
	sidebar := width / 4
	if sidebar < minSidebarWidth {
		sidebar = minSidebarWidth
	}
	if sidebar > maxSidebarWidth {
		sidebar = maxSidebarWidth
	}
	l.sidebarWidth = sidebar
	inner := width - sidebar - sidebarGutter
	if inner < minViewportWidth {
		inner = minViewportWidth
	}
	l.viewportWidth = inner
	// header, notice, composer and status bar plus the blank lines between them
	const chrome = 9
	usable := height - chrome
	if usable < 5 {
		usable = 5
	}
	l.viewportHeight = usable
}

type contentBuilder struct {
	builder strings.Builder
	lines   int
}

func (cb *contentBuilder) WriteString(s string) {
	cb.builder.WriteString(s)
	cb.lines += strings.Count(s, "\n")
}

func (cb *contentBuilder) WriteRune(r rune) {
	cb.builder.WriteRune(r)
	if r == '\n' {
		cb.lines++
	}
}

func (cb *contentBuilder) String() string {
	return cb.builder.String()
}

func (cb *contentBuilder) Line() int {
	return cb.lines
}

func (m *model) buildTranscript() string {
	cb := &contentBuilder{}
	active := m.engine.Active()
	conv, ok := m.engine.Conversation(active)
	if !ok {
		m.writeWelcome(cb)
		return cb.String()
	}

	cb.WriteString(sectionHeaderStyle.Render(conversationTitle(conv)))
	cb.WriteRune('\n')
	messages := m.engine.Messages(active)
	outbox := m.engine.Outbox(active)
	if len(messages) == 0 && len(outbox) == 0 {
		if m.engine.IsPlaceholder(active) {
			cb.WriteString(helperStyle.Render(fmt.Sprintf("%s Creating conversation…", m.spinner.View())))
		} else {
			cb.WriteString(helperStyle.Render("No messages yet. Type below and press Enter."))
		}
		cb.WriteRune('\n')
		return cb.String()
	}

	wrap := m.wrapWidth(transcriptPadding)
	for _, msg := range messages {
		cb.WriteRune('\n')
		cb.WriteString(messageLabel(msg))
		cb.WriteRune('\n')
		cb.WriteString(renderContent(msg.Content, wrap))
		cb.WriteRune('\n')
	}
	for _, content := range outbox {
		cb.WriteRune('\n')
		cb.WriteString(pendingStyle.Render("You · sending"))
		cb.WriteRune('\n')
		cb.WriteString(pendingStyle.Render(indentMultiline(wordwrap.String(render.SanitizeTerminal(content), wrap), "  ")))
		cb.WriteRune('\n')
	}
	if len(outbox) > 0 {
		cb.WriteRune('\n')
		cb.WriteString(helperStyle.Render(fmt.Sprintf("%s Waiting for the assistant…", m.spinner.View())))
		cb.WriteRune('\n')
	}
	return cb.String()
}

func (m *model) writeWelcome(cb *contentBuilder) {
	cb.WriteString(sectionHeaderStyle.Render("No conversation open"))
	cb.WriteRune('\n')
	if len(m.engine.Conversations()) == 0 {
		cb.WriteString(helperStyle.Render("Press ctrl+n to start a conversation."))
	} else {
		cb.WriteString(helperStyle.Render("Press tab to open a conversation or ctrl+n to start a new one."))
	}
	cb.WriteRune('\n')
	cb.WriteRune('\n')
	cb.WriteString(m.keyLegendView())
	cb.WriteRune('\n')
}

func messageLabel(msg remote.Message) string {
	label := userLabelStyle.Render("You")
	if msg.Role == remote.RoleAssistant {
		label = assistantLabelStyle.Render("Assistant")
	}
	if msg.CreatedAt.IsZero() {
		return label
	}
	return label + helperStyle.Render(" · "+msg.CreatedAt.Local().Format("Jan 2 15:04"))
}

// renderContent lays out message text: prose is wrapped, code is boxed under
// its language label.
func renderContent(content string, width int) string {
	var blocks []string
	for _, seg := range render.Parse(render.SanitizeTerminal(content)) {
		if seg.Kind == render.KindCode {
			blocks = append(blocks, renderCode(seg, width))
			continue
		}
		text := strings.Trim(seg.Text, "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, indentMultiline(wordwrap.String(text, width), "  "))
	}
	return strings.Join(blocks, "\n")
}

func renderCode(seg render.Segment, width int) string {
	body := strings.TrimRight(seg.Text, "\n")
	if body == "" {
		body = " "
	}
	boxWidth := width - 4
	if boxWidth < 10 {
		boxWidth = 10
	}
	box := codeBlockStyle.Width(boxWidth).Render(body)
	if seg.Language != "" {
		box = codeLabelStyle.Render(seg.Language) + "\n" + box
	}
	return indentMultiline(box, "  ")
}

func conversationTitle(conv remote.Conversation) string {
	return render.SanitizeTerminal(render.DisplayTitle(conv.Title))
}

func indentMultiline(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func (m *model) wrapWidth(padding int) int {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	if padding < 0 {
		padding = 0
	}
	available := width - padding
	if available < 20 {
		available = 20
	}
	return available
}

// visibleWindow picks which rows of a list of total rows to show so that
// focus stays on screen.
func visibleWindow(total, focus, size int) (int, int) {
	if size <= 0 || total <= size {
		return 0, total
	}
	start := focus - size/2
	if start < 0 {
		start = 0
	}
	if start > total-size {
		start = total - size
	}
	return start, start + size
}

func previewText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
