// Package tui is the terminal front end: a sidebar of conversations, the open
// transcript and a composer, driven by the sync engine and the recorder.
package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/attach"
	"github.com/csheth/chatterm/internal/config"
	"github.com/csheth/chatterm/internal/engine"
	"github.com/csheth/chatterm/internal/record"
	"github.com/csheth/chatterm/internal/remote"
)

// Config wires the program. Engine is required.
type Config struct {
	Engine      *engine.Engine
	Recorder    *record.Recorder
	// Credential labels the status bar with the signed-in account.
	Credential  remote.Credential
	ArchivePath string
	Logger      *zap.Logger
	Now         func() time.Time
	JobTimeout  time.Duration
}

type model struct {
	config   Config
	engine   *engine.Engine
	recorder *record.Recorder
	log      *zap.Logger
	jobs     *jobBus

	stage    stage
	composer textinput.Model
	prompt   textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	layout   pageLayout

	spinning        bool
	renameTarget    string
	deleteTarget    string
	renderedFor     string
	viewportContent string
	runningJobs     map[jobKind]int
	heldImport      *attach.Attachment

	infoMessage  string
	errorMessage string
	quitting     bool
	exitMessage  string
}

func New(cfg Config) tea.Model {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = record.New(record.Options{Logger: cfg.Logger})
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}

	composer := textinput.New()
	composer.Placeholder = composerPlaceholder
	composer.Prompt = "› "
	composer.CharLimit = config.MaxMessageLength
	composer.Width = 70
	composer.Focus()

	prompt := textinput.New()
	prompt.Placeholder = renamePlaceholder
	prompt.Prompt = "› "
	prompt.CharLimit = config.MaxTitleLength
	prompt.Width = 50

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	layout := newPageLayout()
	vp := viewport.New(layout.viewportWidth, layout.viewportHeight)

	m := &model{
		config:      cfg,
		engine:      cfg.Engine,
		recorder:    cfg.Recorder,
		log:         cfg.Logger.Named("tui"),
		jobs:        newJobBus(cfg.Logger, cfg.JobTimeout),
		stage:       stageChat,
		composer:    composer,
		prompt:      prompt,
		spinner:     spin,
		viewport:    vp,
		layout:      layout,
		runningJobs: map[jobKind]int{},
		infoMessage: loadingMessage,
	}
	m.syncViewport()
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.engine.Mount())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	m.syncComposer()
	m.syncViewport()
	return m, tea.Batch(cmd, m.ensureSpinner())
}

func (m *model) update(msg tea.Msg) tea.Cmd {
	previous := m.engine.Active()
	if cmd, ok := m.engine.Update(msg); ok {
		m.clearLoading()
		return tea.Batch(cmd, m.applyNoticesFor(previous))
	}
	if outcome, ok := m.recorder.Update(msg); ok {
		return m.applyTranscript(outcome)
	}

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return cmd
	case tea.WindowSizeMsg:
		m.layout.Update(msg.Width, msg.Height)
		m.viewport.Width = m.layout.viewportWidth
		m.viewport.Height = m.layout.viewportHeight
		width := msg.Width - 6
		if width < 20 {
			width = 20
		}
		m.composer.Width = width
		return nil
	case jobSignalMsg:
		m.runningJobs[msg.Snapshot.Kind]++
		return nil
	case jobResultEnvelope:
		if m.runningJobs[msg.Snapshot.Kind] > 0 {
			m.runningJobs[msg.Snapshot.Kind]--
		}
		return m.handleJobResult(msg.Payload)
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	cmds = append(cmds, cmd)
	if m.stage == stageRename {
		m.prompt, cmd = m.prompt.Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (m *model) clearLoading() {
	if m.infoMessage == loadingMessage {
		m.infoMessage = ""
	}
}

func (m *model) applyNotices() tea.Cmd {
	return m.applyNoticesFor(m.engine.Active())
}

// applyNoticesFor turns queued engine outcomes into status text and
// navigation. previous is the conversation that was open before the engine
// handled the message; only its disappearance takes the user away.
func (m *model) applyNoticesFor(previous string) tea.Cmd {
	for _, n := range m.engine.TakeNotices() {
		switch n.Kind {
		case engine.NoticeUnauthenticated:
			return m.signOut(n.Message())
		case engine.NoticeConversationVanished:
			if n.ConversationID != previous {
				m.infoMessage = "A conversation you left no longer exists."
				continue
			}
			m.leaveConversation()
			m.errorMessage = n.Message()
		case engine.NoticeNavigateAway:
			m.leaveConversation()
			m.infoMessage = n.Message()
		case engine.NoticeCreated:
			if m.infoMessage == "Creating conversation…" {
				m.infoMessage = n.Message()
			}
		case engine.NoticeError:
			m.errorMessage = n.Message()
		}
	}
	return nil
}

func (m *model) signOut(message string) tea.Cmd {
	m.log.Warn("signed out", zap.String("reason", message))
	m.engine.Unmount()
	m.recorder.Cancel()
	m.quitting = true
	m.exitMessage = message
	return tea.Quit
}

// leaveConversation drops state tied to the conversation being left: an open
// microphone and any overlay aimed at a conversation that is gone.
func (m *model) leaveConversation() {
	if m.recorder.State() == record.Recording {
		m.recorder.Cancel()
	}
	if m.stage == stageChat {
		return
	}
	target := m.renameTarget
	if m.stage == stageConfirmDelete {
		target = m.deleteTarget
	}
	if _, ok := m.engine.Conversation(target); !ok {
		m.closeOverlay()
	}
}

func (m *model) closeOverlay() tea.Cmd {
	m.stage = stageChat
	m.renameTarget = ""
	m.deleteTarget = ""
	m.prompt.Blur()
	m.prompt.SetValue("")
	return m.composer.Focus()
}

func (m *model) handleKey(key tea.KeyMsg) tea.Cmd {
	if key.Type == tea.KeyCtrlC {
		m.engine.Unmount()
		m.recorder.Cancel()
		return tea.Quit
	}
	m.errorMessage = ""
	switch m.stage {
	case stageRename:
		return m.handleRenameKey(key)
	case stageConfirmDelete:
		return m.handleDeleteKey(key)
	default:
		return m.handleChatKey(key)
	}
}

func (m *model) handleChatKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "esc":
		m.cancelAction()
		return nil
	case "ctrl+n":
		return m.newConversation()
	case "ctrl+r":
		return m.beginRename()
	case "ctrl+d":
		return m.beginDelete()
	case "tab":
		return m.cycleConversation(1)
	case "shift+tab":
		return m.cycleConversation(-1)
	case "enter":
		return m.submitDraft()
	case "ctrl+t":
		return m.toggleRecording()
	case "ctrl+l":
		m.infoMessage = fmt.Sprintf("Transcription language: %s", strings.ToUpper(m.recorder.ToggleLanguage()))
		return nil
	case "ctrl+s":
		return m.archiveActive()
	case "ctrl+e":
		return m.exportActive()
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(key)
		return cmd
	}
	if m.recorder.InputLocked() {
		return nil
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(key)
	return cmd
}

func (m *model) cancelAction() {
	switch m.recorder.State() {
	case record.Recording:
		m.recorder.Cancel()
		m.infoMessage = "Recording discarded."
	case record.Uploading:
		m.recorder.Cancel()
		m.infoMessage = "Transcription discarded."
	default:
		if m.composer.Value() != "" {
			m.composer.SetValue("")
			m.infoMessage = "Draft cleared."
		}
	}
}

func (m *model) newConversation() tea.Cmd {
	id, create, err := m.engine.CreateConversation("")
	if err != nil {
		m.errorMessage = err.Error()
		return nil
	}
	m.leaveConversation()
	m.infoMessage = "Creating conversation…"
	return tea.Batch(create, m.engine.Open(id), m.applyNotices())
}

func (m *model) cycleConversation(delta int) tea.Cmd {
	convs := m.engine.Conversations()
	if len(convs) == 0 {
		m.infoMessage = "No conversations yet. Press ctrl+n to start one."
		return nil
	}
	active := m.engine.Active()
	current := -1
	for idx, conv := range convs {
		if conv.ID == active {
			current = idx
			break
		}
	}
	next := 0
	switch {
	case current >= 0:
		next = (current + delta + len(convs)) % len(convs)
	case delta < 0:
		next = len(convs) - 1
	}
	if convs[next].ID == active {
		return nil
	}
	m.leaveConversation()
	m.infoMessage = ""
	return m.engine.Open(convs[next].ID)
}

func (m *model) beginRename() tea.Cmd {
	conv, ok := m.engine.Conversation(m.engine.Active())
	if !ok {
		m.infoMessage = "Open a conversation to rename it."
		return nil
	}
	m.stage = stageRename
	m.renameTarget = conv.ID
	m.prompt.SetValue(strings.Trim(conv.Title, "\" \t"))
	m.prompt.CursorEnd()
	m.composer.Blur()
	return m.prompt.Focus()
}

func (m *model) handleRenameKey(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		m.infoMessage = "Rename cancelled."
		return m.closeOverlay()
	case tea.KeyEnter:
		rename, err := m.engine.RenameConversation(m.renameTarget, m.prompt.Value())
		if err != nil {
			m.errorMessage = err.Error()
			return nil
		}
		m.infoMessage = "Title updated."
		return tea.Batch(rename, m.closeOverlay(), m.applyNotices())
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(key)
	return cmd
}

func (m *model) beginDelete() tea.Cmd {
	active := m.engine.Active()
	if _, ok := m.engine.Conversation(active); !ok {
		m.infoMessage = "Open a conversation to delete it."
		return nil
	}
	m.stage = stageConfirmDelete
	m.deleteTarget = active
	m.composer.Blur()
	return nil
}

func (m *model) handleDeleteKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "y", "Y", "enter":
		target := m.deleteTarget
		focus := m.closeOverlay()
		remove, err := m.engine.DeleteConversation(target)
		if err != nil {
			m.errorMessage = err.Error()
			return focus
		}
		return tea.Batch(remove, focus, m.applyNotices())
	case "n", "N", "esc":
		m.infoMessage = "Delete cancelled."
		return m.closeOverlay()
	}
	return nil
}

func (m *model) submitDraft() tea.Cmd {
	if m.recorder.InputLocked() {
		m.infoMessage = "Finish or discard the recording first."
		return nil
	}
	draft := strings.TrimSpace(m.composer.Value())
	if path, ok := parseAttachCommand(draft); ok {
		m.composer.SetValue("")
		m.infoMessage = fmt.Sprintf("Importing %s…", filepath.Base(path))
		return m.jobs.Start(jobKindAttach, attachJob(path, config.MaxAttachmentChars))
	}
	if draft == "" {
		return nil
	}
	active := m.engine.Active()
	if active == "" {
		m.errorMessage = "Open a conversation first: tab picks one, ctrl+n starts one."
		return nil
	}
	send, err := m.engine.SendMessage(active, draft)
	if err != nil {
		if errors.Is(err, engine.ErrConversationPending) {
			m.errorMessage = "The conversation is still being created. Try again in a moment."
		} else {
			m.errorMessage = err.Error()
		}
		return m.applyNotices()
	}
	m.composer.SetValue("")
	m.infoMessage = ""
	return tea.Batch(send, m.applyNotices())
}

func (m *model) toggleRecording() tea.Cmd {
	switch m.recorder.State() {
	case record.Idle:
		if err := m.recorder.Start(); err != nil {
			m.errorMessage = err.Error()
			return nil
		}
		m.infoMessage = fmt.Sprintf("Recording (%s)… ctrl+t to stop.", strings.ToUpper(m.recorder.Language()))
		return nil
	case record.Recording:
		m.infoMessage = "Transcribing…"
		return m.recorder.Stop()
	default:
		m.infoMessage = "Still transcribing…"
		return nil
	}
}

func (m *model) applyTranscript(outcome record.Outcome) tea.Cmd {
	if outcome.Err != nil {
		switch {
		case errors.Is(outcome.Err, remote.ErrUnauthenticated):
			return m.signOut(engine.Notice{Kind: engine.NoticeUnauthenticated}.Message())
		case errors.Is(outcome.Err, record.ErrEmptyRecording):
			m.infoMessage = "Nothing was recorded."
		default:
			m.infoMessage = ""
			m.errorMessage = outcome.Err.Error()
		}
		return nil
	}
	if outcome.Transcript == "" {
		m.infoMessage = "The transcription came back empty."
		return nil
	}
	m.composer.SetValue(outcome.Transcript)
	m.composer.CursorEnd()
	m.infoMessage = "Transcript placed in the draft. Press Enter to send."
	return nil
}

func (m *model) archiveActive() tea.Cmd {
	conv, ok := m.exportable("archive")
	if !ok {
		return nil
	}
	m.infoMessage = "Archiving…"
	return m.jobs.Start(jobKindArchive, archiveJob(m.config.ArchivePath, conv, m.engine.Messages(conv.ID), m.config.Now()))
}

func (m *model) exportActive() tea.Cmd {
	conv, ok := m.exportable("export")
	if !ok {
		return nil
	}
	m.infoMessage = "Exporting…"
	return m.jobs.Start(jobKindExport, exportJob(m.config.ArchivePath, conv, m.engine.Messages(conv.ID), m.config.Now()))
}

func (m *model) exportable(verb string) (remote.Conversation, bool) {
	conv, ok := m.engine.Conversation(m.engine.Active())
	switch {
	case !ok:
		m.infoMessage = fmt.Sprintf("Open a conversation to %s it.", verb)
	case m.engine.IsPlaceholder(conv.ID):
		m.infoMessage = "The conversation is still being created."
	case m.config.ArchivePath == "":
		m.errorMessage = "No archive path configured."
	default:
		return conv, true
	}
	return remote.Conversation{}, false
}

func (m *model) handleJobResult(payload tea.Msg) tea.Cmd {
	switch msg := payload.(type) {
	case archiveResultMsg:
		if msg.err != nil {
			m.infoMessage = ""
			m.errorMessage = fmt.Sprintf("archive failed: %v", msg.err)
			return nil
		}
		verb := "Updated"
		if msg.added {
			verb = "Archived"
		}
		m.infoMessage = fmt.Sprintf("%s %q in %s", verb, msg.title, m.config.ArchivePath)
	case exportResultMsg:
		if msg.err != nil {
			m.infoMessage = ""
			m.errorMessage = fmt.Sprintf("export failed: %v", msg.err)
			return nil
		}
		m.infoMessage = "Exported to " + msg.path
	case attachResultMsg:
		if msg.err != nil {
			m.infoMessage = ""
			m.errorMessage = fmt.Sprintf("import failed: %v", msg.err)
			return nil
		}
		if m.recorder.InputLocked() {
			held := msg.attachment
			m.heldImport = &held
			m.infoMessage = fmt.Sprintf("%s is ready; it joins the draft once the recording is done.", held.Name)
			return nil
		}
		m.importIntoDraft(msg.attachment)
	}
	return nil
}

func (m *model) importIntoDraft(a attach.Attachment) {
	m.composer.SetValue(mergeDraft(m.composer.Value(), strings.ReplaceAll(a.Draft(), "\n", " ")))
	m.composer.CursorEnd()
	m.infoMessage = fmt.Sprintf("Imported %s into the draft.", a.Name)
	if a.Truncated {
		m.infoMessage = fmt.Sprintf("Imported %s, clipped to %d characters.", a.Name, config.MaxAttachmentChars)
	}
}

func (m *model) busy() bool {
	if m.recorder.State() == record.Uploading {
		return true
	}
	for _, count := range m.runningJobs {
		if count > 0 {
			return true
		}
	}
	active := m.engine.Active()
	return active != "" && (m.engine.IsPlaceholder(active) || len(m.engine.Outbox(active)) > 0)
}

func (m *model) ensureSpinner() tea.Cmd {
	if m.spinning || m.quitting || !m.busy() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// syncComposer keeps the draft read-only while the recorder is busy and lets
// a held PDF import in once it is not.
func (m *model) syncComposer() {
	if m.recorder.InputLocked() {
		m.composer.Placeholder = composerLockedPlaceholder
		return
	}
	m.composer.Placeholder = composerPlaceholder
	if m.heldImport != nil {
		held := *m.heldImport
		m.heldImport = nil
		m.importIntoDraft(held)
	}
}

func (m *model) syncViewport() {
	content := m.buildTranscript()
	active := m.engine.Active()
	if content == m.viewportContent && active == m.renderedFor {
		return
	}
	follow := active != m.renderedFor || m.viewport.AtBottom()
	m.viewportContent = content
	m.renderedFor = active
	m.viewport.SetContent(content)
	if follow {
		m.viewport.GotoBottom()
	}
}

var (
	titleStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	taglineStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#f4a261")).Italic(true)
	sectionHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	pendingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("147"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#a3be8c"))
	codeBlockStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)
	codeLabelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	sidebarStyle        = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true).BorderForeground(lipgloss.Color("#56526e"))
	sidebarItemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	sidebarActiveStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8ecae6"))
	statusBarStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle            = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)
)
