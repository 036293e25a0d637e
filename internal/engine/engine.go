// Package engine keeps the local snapshot of conversations and messages in
// step with the remote service. It runs inside the bubbletea update loop:
// every remote call is a tea.Cmd and every result comes back through Update,
// so the snapshot is only ever touched from one goroutine.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/config"
	"github.com/csheth/chatterm/internal/remote"
)

const (
	DefaultConversationInterval = 10 * time.Second
	DefaultMessageInterval      = 5 * time.Second
	DefaultRequestTimeout       = 30 * time.Second

	placeholderPrefix = "local-"
)

var (
	ErrUnknownConversation = errors.New("engine: unknown conversation")
	ErrConversationPending = errors.New("engine: conversation is still being created")
)

// Remote is the slice of the conversation service the engine drives.
type Remote interface {
	ListConversations(ctx context.Context) ([]remote.Conversation, error)
	CreateConversation(ctx context.Context, title string) (string, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]remote.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (remote.Exchange, error)
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	ConversationInterval time.Duration
	MessageInterval      time.Duration
	RequestTimeout       time.Duration
	Logger               *zap.Logger
	Now                  func() time.Time
	// Tick schedules one timer message. Defaults to tea.Tick.
	Tick func(time.Duration, func(time.Time) tea.Msg) tea.Cmd
}

func (o Options) withDefaults() Options {
	if o.ConversationInterval <= 0 {
		o.ConversationInterval = DefaultConversationInterval
	}
	if o.MessageInterval <= 0 {
		o.MessageInterval = DefaultMessageInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Tick == nil {
		o.Tick = tea.Tick
	}
	return o
}

// Snapshot is a detached copy of the engine state for readers.
type Snapshot struct {
	Conversations []remote.Conversation
	Messages      map[string][]remote.Message
	Active        string
}

type placeholder struct {
	title    string
	original string
	renamed  bool
	deleted  bool
}

// fetchState tracks the one outstanding fetch for a resource. token is the
// sequence number the fetch was issued at, zero when idle.
type fetchState struct {
	target string
	token  uint64
	queued bool
}

// Engine owns the local snapshot.
type Engine struct {
	remote Remote
	opts   Options
	log    *zap.Logger

	seq           uint64
	conversations []remote.Conversation
	messages      map[string][]remote.Message
	active        string

	stamps        map[string]uint64
	messageStamps map[string]uint64
	tombstones    map[string]uint64
	placeholders  map[string]*placeholder
	aliases       map[string]string
	renaming      map[string]int
	outbox        map[string][]string
	vanished      map[string]bool

	listFetch    fetchState
	messageFetch fetchState
	listPoll     poller
	messagePoll  poller

	notices         []Notice
	unauthenticated bool
}

// New builds an engine around the given remote.
func New(r Remote, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		remote:        r,
		opts:          opts,
		log:           opts.Logger.Named("engine"),
		messages:      map[string][]remote.Message{},
		stamps:        map[string]uint64{},
		messageStamps: map[string]uint64{},
		tombstones:    map[string]uint64{},
		placeholders:  map[string]*placeholder{},
		aliases:       map[string]string{},
		renaming:      map[string]int{},
		outbox:        map[string][]string{},
		vanished:      map[string]bool{},
		listPoll:      poller{kind: pollConversations, interval: opts.ConversationInterval},
		messagePoll:   poller{kind: pollMessages, interval: opts.MessageInterval},
	}
}

func (e *Engine) next() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) now() time.Time {
	return e.opts.Now()
}

// Update routes engine messages. The boolean reports whether msg belonged to
// the engine.
func (e *Engine) Update(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case pollTickMsg:
		return e.handleTick(msg), true
	case conversationsFetchedMsg:
		return e.handleConversations(msg), true
	case messagesFetchedMsg:
		return e.handleMessages(msg), true
	case createdMsg:
		return e.handleCreated(msg), true
	case renamedMsg:
		return e.handleRenamed(msg), true
	case deletedMsg:
		return e.handleDeleted(msg), true
	case sentMsg:
		return e.handleSent(msg), true
	}
	return nil, false
}

// Mount starts the conversation poller with an immediate refresh.
func (e *Engine) Mount() tea.Cmd {
	e.unauthenticated = false
	e.listPoll.start("")
	return tea.Batch(e.RefreshConversations(), e.scheduleTick(&e.listPoll))
}

// Unmount stops both pollers and forgets in-flight fetches.
func (e *Engine) Unmount() {
	e.listPoll.stop()
	e.listFetch = fetchState{}
	e.closeActive()
}

// Open makes id the active conversation and starts polling its messages.
// Polling of the previous conversation stops.
func (e *Engine) Open(id string) tea.Cmd {
	id = e.resolve(id)
	if _, ok := e.index(id); !ok {
		return nil
	}
	if id == e.active && e.messagePoll.running {
		return nil
	}
	e.active = id
	e.messageFetch = fetchState{}
	e.messagePoll.start(id)
	return tea.Batch(e.RefreshMessages(id), e.scheduleTick(&e.messagePoll))
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation() {
	e.closeActive()
}

func (e *Engine) closeActive() {
	e.active = ""
	e.messagePoll.stop()
	e.messageFetch = fetchState{}
}

// TakeNotices drains queued notices.
func (e *Engine) TakeNotices() []Notice {
	out := e.notices
	e.notices = nil
	return out
}

func (e *Engine) push(n Notice) {
	e.notices = append(e.notices, n)
}

// Active returns the open conversation id, or "".
func (e *Engine) Active() string {
	return e.active
}

// Conversations returns the ordered conversation list.
func (e *Engine) Conversations() []remote.Conversation {
	return append([]remote.Conversation(nil), e.conversations...)
}

// Conversation looks up one conversation, following placeholder aliases.
func (e *Engine) Conversation(id string) (remote.Conversation, bool) {
	idx, ok := e.index(e.resolve(id))
	if !ok {
		return remote.Conversation{}, false
	}
	return e.conversations[idx], true
}

// Messages returns the ordered messages of a conversation.
func (e *Engine) Messages(id string) []remote.Message {
	return append([]remote.Message(nil), e.messages[e.resolve(id)]...)
}

// Outbox returns message contents still awaiting a reply.
func (e *Engine) Outbox(id string) []string {
	return append([]string(nil), e.outbox[e.resolve(id)]...)
}

// Pending reports whether id has an unconfirmed create, rename or send.
func (e *Engine) Pending(id string) bool {
	id = e.resolve(id)
	if _, ok := e.placeholders[id]; ok {
		return true
	}
	return e.renaming[id] > 0 || len(e.outbox[id]) > 0
}

// IsPlaceholder reports whether id is a local id awaiting server confirmation.
func (e *Engine) IsPlaceholder(id string) bool {
	_, ok := e.placeholders[id]
	return ok
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Conversations: e.Conversations(),
		Messages:      make(map[string][]remote.Message, len(e.messages)),
		Active:        e.active,
	}
	for id, list := range e.messages {
		snap.Messages[id] = append([]remote.Message(nil), list...)
	}
	return snap
}

func (e *Engine) resolve(id string) string {
	if server, ok := e.aliases[id]; ok {
		return server
	}
	return id
}

func (e *Engine) index(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for i, conv := range e.conversations {
		if conv.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) removeConversation(id string) bool {
	idx, ok := e.index(id)
	if !ok {
		return false
	}
	e.conversations = append(e.conversations[:idx], e.conversations[idx+1:]...)
	return true
}

// fail turns an asynchronous error into a notice.
func (e *Engine) fail(op, id string, err error) {
	if errors.Is(err, remote.ErrUnauthenticated) {
		e.raiseUnauthenticated(err)
		return
	}
	e.log.Error("remote call failed", zap.String("op", op), zap.String("conversation_id", id), zap.Error(err))
	e.push(Notice{Kind: NoticeError, Op: op, ConversationID: id, Err: err})
}

func (e *Engine) raiseUnauthenticated(err error) {
	if e.unauthenticated {
		return
	}
	e.unauthenticated = true
	e.log.Warn("credential rejected, polling stopped", zap.Error(err))
	e.listPoll.stop()
	e.listFetch = fetchState{}
	e.messagePoll.stop()
	e.messageFetch = fetchState{}
	e.push(Notice{Kind: NoticeUnauthenticated, Err: err})
}

// conversationVanished drops a conversation the service no longer knows.
// Its messages are left as they were.
func (e *Engine) conversationVanished(id string) {
	if e.vanished[id] {
		return
	}
	e.vanished[id] = true
	e.removeConversation(id)
	delete(e.stamps, id)
	e.tombstones[id] = e.next()
	if e.active == id {
		e.closeActive()
	}
	e.log.Info("conversation vanished", zap.String("conversation_id", id))
	e.push(Notice{Kind: NoticeConversationVanished, ConversationID: id})
}

func validateTitle(title string, required bool) error {
	rules := []validation.Rule{validation.RuneLength(0, config.MaxTitleLength)}
	if required {
		rules = append([]validation.Rule{validation.Required}, rules...)
	}
	if err := validation.Validate(title, rules...); err != nil {
		return validation.Errors{"title": err}
	}
	return nil
}

func validateContent(content string) error {
	err := validation.Validate(strings.TrimSpace(content),
		validation.Required,
		validation.RuneLength(1, config.MaxMessageLength),
	)
	if err != nil {
		return validation.Errors{"content": err}
	}
	return nil
}
