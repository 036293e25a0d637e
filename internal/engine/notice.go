package engine

import "fmt"

// NoticeKind classifies an asynchronous outcome for the presentation layer.
type NoticeKind int

const (
	NoticeError NoticeKind = iota + 1
	NoticeUnauthenticated
	NoticeConversationVanished
	NoticeNavigateAway
	NoticeCreated
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeError:
		return "error"
	case NoticeUnauthenticated:
		return "unauthenticated"
	case NoticeConversationVanished:
		return "conversation_vanished"
	case NoticeNavigateAway:
		return "navigate_away"
	case NoticeCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Notice is one queued outcome. LocalID is set for NoticeCreated.
type Notice struct {
	Kind           NoticeKind
	Op             string
	ConversationID string
	LocalID        string
	Err            error
}

// Message renders the notice for a status line.
func (n Notice) Message() string {
	switch n.Kind {
	case NoticeError:
		return fmt.Sprintf("%s failed: %v", n.Op, n.Err)
	case NoticeUnauthenticated:
		return "Not signed in: the credential is missing or was rejected."
	case NoticeConversationVanished:
		return "This conversation no longer exists. It may have expired."
	case NoticeNavigateAway:
		return "Conversation deleted."
	case NoticeCreated:
		return "Conversation created."
	default:
		return ""
	}
}
