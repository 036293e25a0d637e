package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/csheth/chatterm/internal/remote/remotetest"
)

func newFakeClient(t *testing.T, opts remotetest.Options) (*Client, *remotetest.Server) {
	t.Helper()
	fake := remotetest.NewServer(opts)
	server := httptest.NewServer(fake.Handler())
	t.Cleanup(server.Close)
	client, err := New(Config{
		BaseURL:    server.URL,
		Credential: NewCredential(fake.Token()),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client, fake
}

func TestClientConversationLifecycle(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t, remotetest.Options{})
	ctx := context.Background()

	id, err := client.CreateConversation(ctx, "Trip planning")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := client.RenameConversation(ctx, id, "Trip to Oslo"); err != nil {
		t.Fatalf("RenameConversation() error = %v", err)
	}

	list, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Title != "Trip to Oslo" {
		t.Fatalf("unexpected list: %#v", list)
	}
	if list[0].CreatedAt.IsZero() {
		t.Fatal("created_at should be parsed")
	}

	if _, err := client.ListConversations(ctx); err != nil {
		t.Fatalf("second list error = %v", err)
	}
	if got := fake.Calls("me"); got != 1 {
		t.Fatalf("user id should be cached, /me called %d times", got)
	}

	if err := client.DeleteConversation(ctx, id); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	list, err = client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() after delete error = %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %#v", list)
	}
}

func TestClientSendMessageMapsRoles(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, remotetest.Options{Reply: func(string) string { return "hi there" }})
	ctx := context.Background()
	id, err := client.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	exchange, err := client.SendMessage(ctx, id, "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if exchange.User.Role != RoleUser || exchange.User.Content != "hello" {
		t.Fatalf("unexpected user message: %#v", exchange.User)
	}
	if exchange.Reply.Role != RoleAssistant || exchange.Reply.Content != "hi there" {
		t.Fatalf("unexpected reply: %#v", exchange.Reply)
	}

	messages, err := client.ListMessages(ctx, id)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 || messages[1].Role != RoleAssistant {
		t.Fatalf("unexpected messages: %#v", messages)
	}
}

func TestClientSendMessageVanished(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		structured bool
	}{
		{"detail text", false},
		{"structured code", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newFakeClient(t, remotetest.Options{StructuredErrors: tt.structured})
			_, err := client.SendMessage(context.Background(), "gone", "hello")
			if !errors.Is(err, ErrConversationVanished) {
				t.Fatalf("expected ErrConversationVanished, got %v", err)
			}
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound as well, got %v", err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
				t.Fatalf("expected APIError 404, got %#v", err)
			}
		})
	}
}

func TestAPIErrorOtherNotFoundIsNotVanished(t *testing.T) {
	t.Parallel()

	err := parseAPIError(http.StatusNotFound, []byte(`{"detail":"User not found"}`))
	if errors.Is(err, ErrConversationVanished) {
		t.Fatal("a user 404 must not look like a vanished conversation")
	}
	coded := parseAPIError(http.StatusNotFound, []byte(`{"detail":"Conversation not found","code":"user_not_found"}`))
	if errors.Is(coded, ErrConversationVanished) {
		t.Fatal("a structured code takes precedence over the detail text")
	}
}

func TestClientListDegradesToEmpty(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t, remotetest.Options{})
	ctx := context.Background()

	fake.RespondRaw("list", `{"error":"boom"}`)
	list, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("non-array body should not error, got %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list)
	}

	fake.RespondRaw("messages", `[{"role":"user","content":`)
	messages, err := client.ListMessages(ctx, "abc")
	if err != nil {
		t.Fatalf("truncated body should not error, got %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty list, got %#v", messages)
	}
}

func TestClientUnauthenticated(t *testing.T) {
	t.Parallel()

	fake := remotetest.NewServer(remotetest.Options{})
	server := httptest.NewServer(fake.Handler())
	defer server.Close()

	wrong, err := New(Config{BaseURL: server.URL, Credential: NewCredential("nope"), HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := wrong.ListConversations(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for rejected token, got %v", err)
	}

	missing, err := New(Config{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := missing.CreateConversation(context.Background(), "x"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for missing token, got %v", err)
	}
	if fake.Calls("create") != 0 {
		t.Fatal("missing credential must not reach the network")
	}
}

func TestClientTranscribe(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, remotetest.Options{Transcript: func(audio []byte, language string) string {
		return "  " + language + ":" + string(audio) + "  "
	}})

	text, err := client.Transcribe(context.Background(), []byte("RIFFdata"), "clip.wav", "ar")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "ar:RIFFdata" {
		t.Fatalf("unexpected transcript %q", text)
	}

	if _, err := client.Transcribe(context.Background(), nil, "", "en"); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestCredentialExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cred := NewCredential("Bearer " + signed)
	if cred.Subject() != "user-42" {
		t.Fatalf("subject = %q", cred.Subject())
	}
	if err := cred.Validate(now); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if err := cred.Validate(now.Add(2 * time.Hour)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if err := NewCredential("opaque-token").Validate(now); err != nil {
		t.Fatalf("opaque token rejected: %v", err)
	}
	if err := NewCredential("  ").Validate(now); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestFlexTimeFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		zero bool
	}{
		{`"2024-05-01T10:00:00.123456+00:00"`, false},
		{`"2024-05-01T10:00:00.123456"`, false},
		{`"2024-05-01 10:00:00"`, false},
		{`null`, true},
		{`""`, true},
		{`"yesterday"`, true},
		{`1714557600`, false},
	}
	for _, tt := range tests {
		var ft flexTime
		if err := ft.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Fatalf("UnmarshalJSON(%s) error = %v", tt.in, err)
		}
		if ft.Time.IsZero() != tt.zero {
			t.Fatalf("UnmarshalJSON(%s) zero=%v, want %v", tt.in, ft.Time.IsZero(), tt.zero)
		}
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{BaseURL: "not a url"}); err == nil || !strings.Contains(err.Error(), "invalid base url") {
		t.Fatalf("expected invalid base url error, got %v", err)
	}
}
