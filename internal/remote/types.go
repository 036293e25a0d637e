package remote

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a chat thread owned by the authenticated user.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recency is the ordering key for conversation lists: the later of the
// update and creation times.
func (c Conversation) Recency() time.Time {
	if c.UpdatedAt.After(c.CreatedAt) {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Message is one persisted turn inside a conversation.
type Message struct {
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Exchange is the result of sending a message: the stored user turn and the
// assistant reply generated for it.
type Exchange struct {
	User  Message
	Reply Message
}

// User is the identity behind the bearer credential.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type wireConversation struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	CreatedAt flexTime `json:"created_at"`
	UpdatedAt flexTime `json:"updated_at"`
}

func (w wireConversation) toConversation() Conversation {
	return Conversation{
		ID:        w.ID,
		Title:     w.Title,
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
}

type wireMessage struct {
	ConversationID string   `json:"conversation_id"`
	Role           string   `json:"role"`
	Content        string   `json:"content"`
	CreatedAt      flexTime `json:"created_at"`
}

func (w wireMessage) toMessage() Message {
	return Message{
		ConversationID: w.ConversationID,
		Role:           normalizeRole(w.Role),
		Content:        w.Content,
		CreatedAt:      w.CreatedAt.Time,
	}
}

type wireUser struct {
	ID        string   `json:"id"`
	UserName  string   `json:"userName"`
	CreatedAt flexTime `json:"created_at"`
}

type wireSendResponse struct {
	UserMessage wireMessage `json:"user_message"`
	AIResponse  wireMessage `json:"ai_response"`
}

func normalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ai", "assistant", "bot":
		return RoleAssistant
	default:
		return RoleUser
	}
}

// flexTime accepts the timestamp shapes the service has been seen to emit.
type flexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// numeric epoch seconds
		var secs float64
		if numErr := json.Unmarshal(data, &secs); numErr != nil {
			return err
		}
		f.Time = time.Unix(0, int64(secs*float64(time.Second))).UTC()
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		f.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			f.Time = parsed.UTC()
			return nil
		}
	}
	// unknown formats degrade to zero rather than failing the whole list
	f.Time = time.Time{}
	return nil
}

func (f flexTime) MarshalJSON() ([]byte, error) {
	if f.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time.UTC().Format(time.RFC3339Nano))
}
