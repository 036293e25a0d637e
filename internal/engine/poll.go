package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/remote"
)

type pollKind int

const (
	pollConversations pollKind = iota
	pollMessages
)

type pollTickMsg struct {
	kind       pollKind
	generation uint64
	target     string
}

type conversationsFetchedMsg struct {
	token         uint64
	conversations []remote.Conversation
	err           error
}

type messagesFetchedMsg struct {
	token          uint64
	conversationID string
	messages       []remote.Message
	err            error
}

// poller is a cancellable fixed-interval timer. Bumping the generation
// invalidates ticks already scheduled.
type poller struct {
	kind       pollKind
	interval   time.Duration
	generation uint64
	running    bool
	target     string
}

func (p *poller) start(target string) {
	p.generation++
	p.running = true
	p.target = target
}

func (p *poller) stop() {
	p.generation++
	p.running = false
	p.target = ""
}

func (p *poller) accepts(msg pollTickMsg) bool {
	return p.running && msg.generation == p.generation && msg.target == p.target
}

func (e *Engine) scheduleTick(p *poller) tea.Cmd {
	tick := pollTickMsg{kind: p.kind, generation: p.generation, target: p.target}
	return e.opts.Tick(p.interval, func(time.Time) tea.Msg { return tick })
}

func (e *Engine) handleTick(msg pollTickMsg) tea.Cmd {
	p := &e.listPoll
	if msg.kind == pollMessages {
		p = &e.messagePoll
	}
	if !p.accepts(msg) {
		return nil
	}
	var refresh tea.Cmd
	if msg.kind == pollMessages {
		refresh = e.RefreshMessages(msg.target)
	} else {
		refresh = e.RefreshConversations()
	}
	return tea.Batch(refresh, e.scheduleTick(p))
}

// RefreshConversations fetches the conversation list. A call made while a
// fetch is outstanding queues one follow-up fetch instead.
func (e *Engine) RefreshConversations() tea.Cmd {
	if e.listFetch.token != 0 {
		e.listFetch.queued = true
		return nil
	}
	token := e.next()
	e.listFetch = fetchState{token: token}
	client, timeout := e.remote, e.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		list, err := client.ListConversations(ctx)
		return conversationsFetchedMsg{token: token, conversations: list, err: err}
	}
}

// RefreshMessages fetches the messages of the active conversation.
func (e *Engine) RefreshMessages(id string) tea.Cmd {
	id = e.resolve(id)
	if id == "" || id != e.active || e.IsPlaceholder(id) {
		return nil
	}
	if e.messageFetch.token != 0 && e.messageFetch.target == id {
		e.messageFetch.queued = true
		return nil
	}
	token := e.next()
	e.messageFetch = fetchState{target: id, token: token}
	client, timeout := e.remote, e.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		list, err := client.ListMessages(ctx, id)
		return messagesFetchedMsg{token: token, conversationID: id, messages: list, err: err}
	}
}

func (e *Engine) handleConversations(msg conversationsFetchedMsg) tea.Cmd {
	if msg.token != e.listFetch.token {
		e.log.Debug("discarding conversation list", zap.String("reason", "superseded fetch"))
		return nil
	}
	queued := e.listFetch.queued
	e.listFetch = fetchState{}

	if msg.err != nil {
		e.fail("refresh conversations", "", msg.err)
	} else {
		e.applyConversations(msg.token, msg.conversations)
	}
	if queued && !e.unauthenticated {
		return e.RefreshConversations()
	}
	return nil
}

// applyConversations replaces the list with a remote one issued at token.
// Entries changed locally after token keep their local state, placeholders
// stay, and deleted ids never come back.
func (e *Engine) applyConversations(token uint64, incoming []remote.Conversation) {
	local := make(map[string]remote.Conversation, len(e.conversations))
	for _, conv := range e.conversations {
		local[conv.ID] = conv
	}

	seen := make(map[string]bool, len(incoming))
	merged := make([]remote.Conversation, 0, len(incoming)+len(e.placeholders))
	for _, conv := range incoming {
		if conv.ID == "" || seen[conv.ID] {
			continue
		}
		seen[conv.ID] = true
		if _, gone := e.tombstones[conv.ID]; gone {
			continue
		}
		if current, ok := local[conv.ID]; ok && e.protected(conv.ID, token) {
			merged = append(merged, current)
			continue
		}
		merged = append(merged, conv)
	}

	activeMissing := false
	for _, conv := range e.conversations {
		if seen[conv.ID] {
			continue
		}
		if e.IsPlaceholder(conv.ID) || e.stamps[conv.ID] > token {
			merged = append(merged, conv)
			continue
		}
		if conv.ID == e.active {
			activeMissing = true
		}
		delete(e.stamps, conv.ID)
	}

	sortConversations(merged)
	e.conversations = merged
	e.log.Debug("conversation list applied", zap.Int("count", len(merged)), zap.Uint64("token", token))

	if activeMissing {
		e.conversationVanished(e.active)
	}
}

func (e *Engine) protected(id string, token uint64) bool {
	return e.stamps[id] > token || e.renaming[id] > 0
}

func (e *Engine) handleMessages(msg messagesFetchedMsg) tea.Cmd {
	if msg.conversationID != e.messageFetch.target || msg.token != e.messageFetch.token {
		e.log.Debug("discarding message list",
			zap.String("conversation_id", msg.conversationID),
			zap.String("reason", "conversation switched"))
		return nil
	}
	queued := e.messageFetch.queued
	e.messageFetch = fetchState{}

	e.applyMessages(msg)
	if queued && e.active == msg.conversationID {
		return e.RefreshMessages(msg.conversationID)
	}
	return nil
}

func (e *Engine) applyMessages(msg messagesFetchedMsg) {
	id := msg.conversationID
	switch {
	case msg.err != nil && errors.Is(msg.err, remote.ErrConversationVanished):
		e.conversationVanished(id)
	case msg.err != nil:
		e.fail("refresh messages", id, msg.err)
	case id != e.active:
		e.log.Debug("discarding message list", zap.String("conversation_id", id), zap.String("reason", "not active"))
	case len(e.outbox[id]) > 0:
		e.log.Debug("discarding message list", zap.String("conversation_id", id), zap.String("reason", "send in flight"))
	case e.messageStamps[id] > msg.token:
		e.log.Debug("discarding message list", zap.String("conversation_id", id), zap.String("reason", "newer local state"))
	default:
		list := append([]remote.Message(nil), msg.messages...)
		sortMessages(list)
		e.messages[id] = list
		e.messageStamps[id] = msg.token
	}
}

// sortConversations orders by most recent activity, newest first, with ids
// breaking ties.
func sortConversations(list []remote.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := list[i].Recency(), list[j].Recency()
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		return list[i].ID < list[j].ID
	})
}

func sortMessages(list []remote.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
