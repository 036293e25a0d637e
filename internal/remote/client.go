package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxResponseBytes   = 8 << 20
)

// Config describes how to reach the conversation service.
type Config struct {
	BaseURL    string
	Credential Credential
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client talks to the conversation service over HTTP. It is safe for
// concurrent use; commands run on their own goroutines.
type Client struct {
	base   string
	cred   Credential
	client *http.Client
	log    *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	userID string
}

// New validates the base address and returns a client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", cfg.BaseURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		base:   base,
		cred:   cfg.Credential,
		client: pickHTTPClient(cfg.HTTPClient),
		log:    logger.Named("remote"),
		now:    now,
	}, nil
}

func pickHTTPClient(custom *http.Client) *http.Client {
	if custom != nil {
		return custom
	}
	// transcription waits on a third-party job server-side; callers bound each call with a context
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// Me returns the identity behind the credential.
func (c *Client) Me(ctx context.Context) (User, error) {
	var payload struct {
		User wireUser `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &payload); err != nil {
		return User{}, err
	}
	if payload.User.ID == "" {
		return User{}, errors.New("remote: /me returned no user id")
	}
	return User{
		ID:        payload.User.ID,
		Name:      payload.User.UserName,
		CreatedAt: payload.User.CreatedAt.Time,
	}, nil
}

func (c *Client) resolveUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.userID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	user, err := c.Me(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.userID = user.ID
	c.mu.Unlock()
	return user.ID, nil
}

// ListConversations returns the user's conversations in service order.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	userID, err := c.resolveUserID(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(userID), nil, "")
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.forgetUser()
		}
		return nil, err
	}
	wire := decodeList[wireConversation](c.log, "conversations", body)
	out := make([]Conversation, 0, len(wire))
	for _, entry := range wire {
		if entry.ID == "" {
			continue
		}
		out = append(out, entry.toConversation())
	}
	return out, nil
}

func (c *Client) forgetUser() {
	c.mu.Lock()
	c.userID = ""
	c.mu.Unlock()
}

// CreateConversation creates a conversation and returns its server id.
func (c *Client) CreateConversation(ctx context.Context, title string) (string, error) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", map[string]string{"title": title}, &payload); err != nil {
		return "", err
	}
	if payload.ConversationID == "" {
		return "", errors.New("remote: create returned no conversation id")
	}
	return payload.ConversationID, nil
}

// RenameConversation updates a conversation title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), map[string]string{"title": title}, nil)
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// ListMessages returns the messages of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(conversationID), nil, "")
	if err != nil {
		return nil, err
	}
	wire := decodeList[wireMessage](c.log, "messages", body)
	out := make([]Message, 0, len(wire))
	for _, entry := range wire {
		msg := entry.toMessage()
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		out = append(out, msg)
	}
	return out, nil
}

// SendMessage appends a user message and returns it with the assistant reply.
// A conversation that no longer exists yields an error matching
// ErrConversationVanished.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (Exchange, error) {
	var payload wireSendResponse
	request := map[string]string{"conversation_id": conversationID, "content": content}
	if err := c.doJSON(ctx, http.MethodPost, "/messages", request, &payload); err != nil {
		return Exchange{}, err
	}
	exchange := Exchange{
		User:  payload.UserMessage.toMessage(),
		Reply: payload.AIResponse.toMessage(),
	}
	exchange.User.Role = RoleUser
	exchange.Reply.Role = RoleAssistant
	if exchange.User.Content == "" {
		exchange.User.Content = content
	}
	exchange.User.ConversationID = conversationID
	exchange.Reply.ConversationID = conversationID
	return exchange, nil
}

// Transcribe uploads recorded audio and returns the recognised text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("remote: no audio to transcribe")
	}
	if filename == "" {
		filename = "recording.wav"
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.WriteField("language", language); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, "/transcribe", &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("remote: decode transcription: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	contentType := ""
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
		contentType = "application/json"
	}
	body, err := c.do(ctx, method, path, reader, contentType)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.cred.Validate(c.now()); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.cred.header())
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	c.log.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, payload)
	}
	return payload, nil
}

// decodeList tolerates list endpoints that answer with something other than
// an array: the result degrades to an empty list.
func decodeList[T any](log *zap.Logger, endpoint string, body []byte) []T {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		log.Warn("list response is not an array", zap.String("endpoint", endpoint), zap.Int("bytes", len(trimmed)))
		return []T{}
	}
	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		log.Warn("list response failed to decode", zap.String("endpoint", endpoint), zap.Error(err))
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}
