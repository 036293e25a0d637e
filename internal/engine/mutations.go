package engine

import (
	"context"
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/remote"
)

type createdMsg struct {
	localID  string
	serverID string
	err      error
}

type renamedMsg struct {
	id    string
	seq   uint64
	prior string
	err   error
}

type deletedMsg struct {
	id  string
	err error
}

type sentMsg struct {
	id       string
	content  string
	exchange remote.Exchange
	err      error
}

// CreateConversation inserts a placeholder and asks the service for a real
// conversation. It returns the placeholder id; once the service answers, the
// placeholder id resolves to the server id everywhere.
func (e *Engine) CreateConversation(title string) (string, tea.Cmd, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title, false); err != nil {
		return "", nil, err
	}
	localID := placeholderPrefix + uuid.NewString()
	now := e.now()
	e.conversations = append([]remote.Conversation{{ID: localID, Title: title, CreatedAt: now, UpdatedAt: now}}, e.conversations...)
	sortConversations(e.conversations)
	e.stamps[localID] = e.next()
	e.placeholders[localID] = &placeholder{title: title, original: title}
	e.log.Debug("create issued", zap.String("local_id", localID))

	client, timeout := e.remote, e.opts.RequestTimeout
	return localID, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		id, err := client.CreateConversation(ctx, title)
		return createdMsg{localID: localID, serverID: id, err: err}
	}, nil
}

func (e *Engine) handleCreated(msg createdMsg) tea.Cmd {
	p, ok := e.placeholders[msg.localID]
	if !ok {
		return nil
	}
	delete(e.placeholders, msg.localID)
	delete(e.stamps, msg.localID)

	if msg.err != nil {
		if p.deleted {
			if errors.Is(msg.err, remote.ErrUnauthenticated) {
				e.raiseUnauthenticated(msg.err)
			}
			return nil
		}
		e.removeConversation(msg.localID)
		if e.active == msg.localID {
			e.closeActive()
			e.push(Notice{Kind: NoticeNavigateAway, ConversationID: msg.localID})
		}
		e.fail("create conversation", msg.localID, msg.err)
		return nil
	}

	serverID := msg.serverID
	// A list fetch may already have delivered the new conversation.
	e.removeConversation(serverID)

	if p.deleted {
		e.tombstones[serverID] = e.next()
		e.log.Debug("placeholder deleted before create returned", zap.String("conversation_id", serverID))
		return e.remoteDelete(serverID)
	}

	e.aliases[msg.localID] = serverID
	if idx, ok := e.index(msg.localID); ok {
		e.conversations[idx].ID = serverID
	}
	seq := e.next()
	e.stamps[serverID] = seq
	if list, ok := e.messages[msg.localID]; ok {
		e.messages[serverID] = list
		delete(e.messages, msg.localID)
	}
	sortConversations(e.conversations)
	e.push(Notice{Kind: NoticeCreated, ConversationID: serverID, LocalID: msg.localID})

	var cmds []tea.Cmd
	if e.active == msg.localID {
		cmds = append(cmds, e.Open(serverID))
	}
	if p.renamed && p.title != p.original {
		cmds = append(cmds, e.issueRename(serverID, p.title, p.original, seq))
	}
	return tea.Batch(cmds...)
}

// RenameConversation applies the new title locally and sends it to the
// service. A failed rename restores the previous title.
func (e *Engine) RenameConversation(id, title string) (tea.Cmd, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title, true); err != nil {
		return nil, err
	}
	id = e.resolve(id)
	idx, ok := e.index(id)
	if !ok {
		return nil, ErrUnknownConversation
	}
	prior := e.conversations[idx].Title
	if prior == title {
		return nil, nil
	}
	e.conversations[idx].Title = title
	seq := e.next()
	e.stamps[id] = seq
	if p, ok := e.placeholders[id]; ok {
		p.title = title
		p.renamed = true
		return nil, nil
	}
	return e.issueRename(id, title, prior, seq), nil
}

func (e *Engine) issueRename(id, title, prior string, seq uint64) tea.Cmd {
	e.renaming[id]++
	client, timeout := e.remote, e.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := client.RenameConversation(ctx, id, title)
		return renamedMsg{id: id, seq: seq, prior: prior, err: err}
	}
}

func (e *Engine) handleRenamed(msg renamedMsg) tea.Cmd {
	if e.renaming[msg.id] > 1 {
		e.renaming[msg.id]--
	} else {
		delete(e.renaming, msg.id)
	}
	if msg.err == nil {
		return nil
	}
	if errors.Is(msg.err, remote.ErrConversationVanished) {
		e.conversationVanished(msg.id)
		return nil
	}
	// Only roll back when no later rename has superseded this one.
	if idx, ok := e.index(msg.id); ok && e.stamps[msg.id] == msg.seq {
		e.conversations[idx].Title = msg.prior
		e.stamps[msg.id] = e.next()
	}
	e.fail("rename conversation", msg.id, msg.err)
	return nil
}

// DeleteConversation removes the conversation locally and asks the service
// to delete it. Failures are reported but the entry is not restored.
func (e *Engine) DeleteConversation(id string) (tea.Cmd, error) {
	id = e.resolve(id)
	if !e.removeConversation(id) {
		return nil, ErrUnknownConversation
	}
	delete(e.messages, id)
	delete(e.messageStamps, id)
	delete(e.stamps, id)
	delete(e.outbox, id)
	e.tombstones[id] = e.next()
	if e.active == id {
		e.closeActive()
		e.push(Notice{Kind: NoticeNavigateAway, ConversationID: id})
	}
	if p, ok := e.placeholders[id]; ok {
		p.deleted = true
		return nil, nil
	}
	return e.remoteDelete(id), nil
}

func (e *Engine) remoteDelete(id string) tea.Cmd {
	client, timeout := e.remote, e.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return deletedMsg{id: id, err: client.DeleteConversation(ctx, id)}
	}
}

func (e *Engine) handleDeleted(msg deletedMsg) tea.Cmd {
	switch {
	case msg.err == nil:
	case errors.Is(msg.err, remote.ErrNotFound):
		e.log.Debug("delete target already gone", zap.String("conversation_id", msg.id))
	default:
		e.fail("delete conversation", msg.id, msg.err)
	}
	return nil
}

// SendMessage posts content and appends the user message and the reply
// once the service answers. Nothing is appended before that.
func (e *Engine) SendMessage(id, content string) (tea.Cmd, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	id = e.resolve(id)
	if e.IsPlaceholder(id) {
		return nil, ErrConversationPending
	}
	if _, ok := e.index(id); !ok {
		return nil, ErrUnknownConversation
	}
	e.outbox[id] = append(e.outbox[id], content)
	e.log.Debug("send issued", zap.String("conversation_id", id))

	client, timeout := e.remote, e.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		exchange, err := client.SendMessage(ctx, id, content)
		return sentMsg{id: id, content: content, exchange: exchange, err: err}
	}, nil
}

func (e *Engine) handleSent(msg sentMsg) tea.Cmd {
	e.dequeue(msg.id, msg.content)
	if msg.err != nil {
		if errors.Is(msg.err, remote.ErrConversationVanished) {
			e.conversationVanished(msg.id)
			return nil
		}
		e.fail("send message", msg.id, msg.err)
		return nil
	}
	if _, gone := e.tombstones[msg.id]; gone {
		e.log.Debug("reply for deleted conversation dropped", zap.String("conversation_id", msg.id))
		return nil
	}

	user, reply := msg.exchange.User, msg.exchange.Reply
	if user.CreatedAt.IsZero() {
		user.CreatedAt = e.now()
	}
	if reply.CreatedAt.Before(user.CreatedAt) {
		reply.CreatedAt = user.CreatedAt
	}
	user.ConversationID, reply.ConversationID = msg.id, msg.id
	user.Role, reply.Role = remote.RoleUser, remote.RoleAssistant

	seq := e.next()
	list := append(append([]remote.Message(nil), e.messages[msg.id]...), user, reply)
	sortMessages(list)
	e.messages[msg.id] = list
	e.messageStamps[msg.id] = seq

	if idx, ok := e.index(msg.id); ok && reply.CreatedAt.After(e.conversations[idx].UpdatedAt) {
		e.conversations[idx].UpdatedAt = reply.CreatedAt
		e.stamps[msg.id] = seq
		sortConversations(e.conversations)
	}
	return nil
}

func (e *Engine) dequeue(id, content string) {
	queue := e.outbox[id]
	for i, pending := range queue {
		if pending == content {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(e.outbox, id)
		return
	}
	e.outbox[id] = queue
}
