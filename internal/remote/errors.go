package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated means the credential is missing, expired or rejected.
	ErrUnauthenticated = errors.New("remote: unauthenticated")
	// ErrNotFound means the addressed resource does not exist.
	ErrNotFound = errors.New("remote: not found")
	// ErrConversationVanished means the conversation no longer exists server-side.
	ErrConversationVanished = errors.New("remote: conversation no longer exists")
)

// CodeConversationNotFound is the structured error code for a vanished
// conversation. Services that predate it are matched on the detail text.
const CodeConversationNotFound = "conversation_not_found"

const conversationNotFoundDetail = "conversation not found"

// APIError is a non-2xx response from the conversation service.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote: %d %s", e.StatusCode, e.Detail)
}

// Is lets callers match API errors against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConversationVanished:
		return e.conversationVanished()
	}
	return false
}

func (e *APIError) conversationVanished() bool {
	if e.Code != "" {
		return e.Code == CodeConversationNotFound
	}
	return e.StatusCode == http.StatusNotFound &&
		strings.Contains(strings.ToLower(e.Detail), conversationNotFoundDetail)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Code   string          `json:"code"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		apiErr.Detail = strings.TrimSpace(truncate(string(body), 512))
		return apiErr
	}
	apiErr.Code = strings.TrimSpace(envelope.Code)
	if len(envelope.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = truncate(string(envelope.Detail), 512)
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = envelope.Error
	}
	return apiErr
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
