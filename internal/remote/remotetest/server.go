// Package remotetest provides an in-memory conversation service that speaks
// the same HTTP contract as the real backend. Tests mount it on httptest;
// cmd/chatmock serves it for local development.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Options tunes the fake service.
type Options struct {
	Token string
	// UserID is returned by /me and owns every conversation.
	UserID string
	// StructuredErrors adds a machine-readable "code" to not-found bodies.
	StructuredErrors bool
	Reply            func(content string) string
	Transcript       func(audio []byte, language string) string
	Now              func() time.Time
}

type conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type message struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Server is the fake service state.
type Server struct {
	opts Options

	mu            sync.Mutex
	conversations map[string]*conversation
	messages      map[string][]message
	failures      map[string][]int
	calls         map[string]int
	listBodies    map[string][]string
	clockOffset   time.Duration
}

// NewServer returns an empty fake service.
func NewServer(opts Options) *Server {
	if opts.Token == "" {
		opts.Token = "test-token"
	}
	if opts.UserID == "" {
		opts.UserID = "user-1"
	}
	if opts.Reply == nil {
		opts.Reply = func(content string) string { return "You said: " + content }
	}
	if opts.Transcript == nil {
		opts.Transcript = func(audio []byte, language string) string {
			return fmt.Sprintf("transcribed %d bytes (%s)", len(audio), language)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		opts:          opts,
		conversations: map[string]*conversation{},
		messages:      map[string][]message{},
		failures:      map[string][]int{},
		calls:         map[string]int{},
		listBodies:    map[string][]string{},
	}
}

// Token is the bearer token the server accepts.
func (s *Server) Token() string { return s.opts.Token }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authenticate)
	r.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{userID}", s.handleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", s.handleRenameConversation).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)
	r.HandleFunc("/chat/{id}", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/transcribe", s.handleTranscribe).Methods(http.MethodPost)
	return r
}

// Seed inserts a conversation directly, bypassing the API.
func (s *Server) Seed(id, title string, createdAt, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = &conversation{ID: id, UserID: s.opts.UserID, Title: title, CreatedAt: createdAt, UpdatedAt: updatedAt}
}

// SeedMessage appends a stored message directly.
func (s *Server) SeedMessage(conversationID, role, content string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	})
}

// Expire deletes a conversation as if the backend had reaped it.
func (s *Server) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
}

// ExpireIdle reaps every conversation untouched for longer than maxIdle and
// returns how many were removed.
func (s *Server) ExpireIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for id, conv := range s.conversations {
		if conv.UpdatedAt.Before(cutoff) {
			delete(s.conversations, id)
			delete(s.messages, id)
			removed++
		}
	}
	return removed
}

// FailNext makes the next call to route answer with status. Routes are named
// after the handler: "me", "list", "create", "rename", "delete", "messages",
// "send", "transcribe".
func (s *Server) FailNext(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], status)
}

// RespondRaw makes the next list call for route ("list" or "messages")
// answer with body verbatim.
func (s *Server) RespondRaw(route, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listBodies[route] = append(s.listBodies[route], body)
}

// Calls reports how many times a route was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Titles returns the stored conversation titles keyed by id.
func (s *Server) Titles() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.conversations))
	for id, conv := range s.conversations {
		out[id] = conv.Title
	}
	return out
}

// Advance moves the fake clock forward.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockOffset += d
}

func (s *Server) now() time.Time {
	return s.opts.Now().Add(s.clockOffset).UTC()
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header != "Bearer "+s.opts.Token {
			writeDetail(w, http.StatusUnauthorized, "Invalid authentication token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// begin records the call and reports an injected failure status, if any.
func (s *Server) begin(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	queue := s.failures[route]
	if len(queue) == 0 {
		return 0
	}
	status := queue[0]
	s.failures[route] = queue[1:]
	return status
}

func (s *Server) rawBody(route string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.listBodies[route]
	if len(queue) == 0 {
		return "", false
	}
	s.listBodies[route] = queue[1:]
	return queue[0], true
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("me"); status != 0 {
		writeDetail(w, status, http.StatusText(status), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{"id": s.opts.UserID, "userName": "tester", "created_at": s.now()},
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("list"); status != 0 {
		writeDetail(w, status, "Failed to fetch conversations", "")
		return
	}
	if body, ok := s.rawBody("list"); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
		return
	}
	userID := mux.Vars(r)["userID"]
	s.mu.Lock()
	list := make([]conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			list = append(list, *conv)
		}
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("create"); status != 0 {
		writeDetail(w, status, "Failed to create conversation", "")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	now := s.now()
	conv := &conversation{ID: uuid.NewString(), UserID: s.opts.UserID, Title: body.Title, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation created", "conversation_id": conv.ID})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("rename"); status != 0 {
		writeDetail(w, status, "Failed to update conversation title", "")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "title is required", "")
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if ok {
		conv.Title = body.Title
		conv.UpdatedAt = s.now()
	}
	s.mu.Unlock()
	if !ok {
		s.writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation title updated"})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("delete"); status != 0 {
		writeDetail(w, status, "Failed to delete conversation", "")
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	delete(s.conversations, id)
	delete(s.messages, id)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation and all messages deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("messages"); status != 0 {
		writeDetail(w, status, "Failed to fetch messages", "")
		return
	}
	if body, ok := s.rawBody("messages"); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	list := append([]message{}, s.messages[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("send"); status != 0 {
		writeDetail(w, status, "Failed to send message", "")
		return
	}
	var body struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}

	s.mu.Lock()
	conv, ok := s.conversations[body.ConversationID]
	if !ok {
		s.mu.Unlock()
		s.writeNotFound(w)
		return
	}
	now := s.now()
	if title := strings.TrimSpace(conv.Title); title == "" || strings.EqualFold(title, "untitled") {
		conv.Title = summarizeTitle(body.Content)
	}
	conv.UpdatedAt = now
	userMsg := message{ConversationID: conv.ID, Role: "user", Content: body.Content, CreatedAt: now}
	reply := message{ConversationID: conv.ID, Role: "ai", Content: s.opts.Reply(body.Content), CreatedAt: now.Add(time.Millisecond)}
	s.messages[conv.ID] = append(s.messages[conv.ID], userMsg, reply)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Message sent",
		"user_message": userMsg,
		"ai_response":  reply,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if status := s.begin("transcribe"); status != 0 {
		writeDetail(w, status, "Internal error: transcription failed", "")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "multipart body required", "")
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "audio file required", "")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable audio", "")
		return
	}
	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": s.opts.Transcript(audio, language)})
}

func (s *Server) writeNotFound(w http.ResponseWriter) {
	code := ""
	if s.opts.StructuredErrors {
		code = "conversation_not_found"
	}
	writeDetail(w, http.StatusNotFound, "Conversation not found", code)
}

func summarizeTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) == 0 {
		return "Untitled"
	}
	return strings.Join(words, " ")
}

func writeDetail(w http.ResponseWriter, status int, detail, code string) {
	body := map[string]string{"detail": detail}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
