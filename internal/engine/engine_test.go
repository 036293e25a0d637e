package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/remote"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var errGone = &remote.APIError{StatusCode: http.StatusNotFound, Detail: "Conversation not found"}

type fakeRemote struct {
	mu            sync.Mutex
	now           time.Time
	conversations map[string]remote.Conversation
	messages      map[string][]remote.Message
	failures      map[string][]error
	calls         map[string]int
	nextID        int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		now:           base,
		conversations: map[string]remote.Conversation{},
		messages:      map[string][]remote.Message{},
		failures:      map[string][]error{},
		calls:         map[string]int{},
	}
}

func (f *fakeRemote) seed(id, title string, updated time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = remote.Conversation{ID: id, Title: title, CreatedAt: base.Add(-time.Hour), UpdatedAt: updated}
}

func (f *fakeRemote) seedMessage(id string, role remote.Role, content string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append(f.messages[id], remote.Message{ConversationID: id, Role: role, Content: content, CreatedAt: at})
}

// expire drops a conversation server-side, as inactivity expiry would.
func (f *fakeRemote) expire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conversations, id)
	delete(f.messages, id)
}

func (f *fakeRemote) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) title(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	return conv.Title, ok
}

func (f *fakeRemote) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conversations)
}

func (f *fakeRemote) begin(op string) error {
	f.calls[op]++
	queue := f.failures[op]
	if len(queue) == 0 {
		return nil
	}
	f.failures[op] = queue[1:]
	return queue[0]
}

func (f *fakeRemote) ListConversations(context.Context) ([]remote.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list"); err != nil {
		return nil, err
	}
	list := make([]remote.Conversation, 0, len(f.conversations))
	for _, conv := range f.conversations {
		list = append(list, conv)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (f *fakeRemote) CreateConversation(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.conversations[id] = remote.Conversation{ID: id, Title: title, CreatedAt: f.now, UpdatedAt: f.now}
	return id, nil
}

func (f *fakeRemote) RenameConversation(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("rename"); err != nil {
		return err
	}
	conv, ok := f.conversations[id]
	if !ok {
		return errGone
	}
	conv.Title = title
	f.conversations[id] = conv
	return nil
}

func (f *fakeRemote) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete"); err != nil {
		return err
	}
	delete(f.conversations, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeRemote) ListMessages(_ context.Context, id string) ([]remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("messages"); err != nil {
		return nil, err
	}
	return append([]remote.Message(nil), f.messages[id]...), nil
}

func (f *fakeRemote) SendMessage(_ context.Context, id, content string) (remote.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("send"); err != nil {
		return remote.Exchange{}, err
	}
	conv, ok := f.conversations[id]
	if !ok {
		return remote.Exchange{}, errGone
	}
	user := remote.Message{ConversationID: id, Role: remote.RoleUser, Content: content, CreatedAt: f.now}
	reply := remote.Message{ConversationID: id, Role: remote.RoleAssistant, Content: "echo: " + content, CreatedAt: f.now.Add(time.Second)}
	f.messages[id] = append(f.messages[id], user, reply)
	conv.UpdatedAt = reply.CreatedAt
	f.conversations[id] = conv
	f.now = f.now.Add(time.Minute)
	return remote.Exchange{User: user, Reply: reply}, nil
}

type harness struct {
	t      *testing.T
	fake   *fakeRemote
	engine *Engine
}

func immediateTick(_ time.Duration, fn func(time.Time) tea.Msg) tea.Cmd {
	return func() tea.Msg { return fn(time.Time{}) }
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := newFakeRemote()
	eng := New(fake, Options{
		Logger: zap.NewNop(),
		Now:    func() time.Time { return base.Add(time.Hour) },
		Tick:   immediateTick,
	})
	return &harness{t: t, fake: fake, engine: eng}
}

// exec runs cmd and returns the messages it produced without delivering them.
func exec(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, exec(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

// deliver feeds msgs to the engine and keeps running follow-up commands
// until only poll ticks remain. The ticks are returned undelivered.
func (h *harness) deliver(msgs []tea.Msg) []tea.Msg {
	h.t.Helper()
	var ticks []tea.Msg
	queue := append([]tea.Msg(nil), msgs...)
	for len(queue) > 0 {
		msg := queue[0]
		queue = queue[1:]
		if _, ok := msg.(pollTickMsg); ok {
			ticks = append(ticks, msg)
			continue
		}
		next, handled := h.engine.Update(msg)
		if !handled {
			h.t.Fatalf("engine did not handle %T", msg)
		}
		queue = append(queue, exec(next)...)
	}
	return ticks
}

func (h *harness) settle(cmd tea.Cmd) []tea.Msg {
	h.t.Helper()
	return h.deliver(exec(cmd))
}

// fire delivers one poll tick, which deliver would hold back, and settles
// the refresh it starts.
func (h *harness) fire(tick pollTickMsg) []tea.Msg {
	h.t.Helper()
	cmd, handled := h.engine.Update(tick)
	if !handled {
		h.t.Fatalf("engine did not handle %T", tick)
	}
	return h.settle(cmd)
}

func tickOf(ticks []tea.Msg, kind pollKind) (pollTickMsg, bool) {
	for _, msg := range ticks {
		if tick, ok := msg.(pollTickMsg); ok && tick.kind == kind {
			return tick, true
		}
	}
	return pollTickMsg{}, false
}

func countKind(notices []Notice, kind NoticeKind) int {
	n := 0
	for _, notice := range notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

func ids(list []remote.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, conv := range list {
		out = append(out, conv.ID)
	}
	return out
}

func TestRefreshOrdersByRecency(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("idx0", "first", base)
	h.fake.seed("idx1", "second", base.Add(2*time.Minute))
	h.fake.seed("idx2", "third", base.Add(time.Minute))

	h.settle(h.engine.Mount())

	want := []string{"idx1", "idx2", "idx0"}
	if got := ids(h.engine.Conversations()); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestSortConversations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []remote.Conversation
		want []string
	}{
		{
			name: "ties broken by id",
			in: []remote.Conversation{
				{ID: "b", UpdatedAt: base},
				{ID: "a", UpdatedAt: base},
			},
			want: []string{"a", "b"},
		},
		{
			name: "creation counts when newer than update",
			in: []remote.Conversation{
				{ID: "old", CreatedAt: base.Add(-time.Hour), UpdatedAt: base},
				{ID: "fresh", CreatedAt: base.Add(time.Hour)},
			},
			want: []string{"fresh", "old"},
		},
		{
			name: "missing timestamps sink",
			in: []remote.Conversation{
				{ID: "blank"},
				{ID: "dated", UpdatedAt: base},
			},
			want: []string{"dated", "blank"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			list := append([]remote.Conversation(nil), tt.in...)
			sortConversations(list)
			if got := ids(list); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPollingTicksAndUnmount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ticks := h.settle(h.engine.Mount())
	tick, ok := tickOf(ticks, pollConversations)
	if !ok {
		t.Fatal("mount should schedule a conversation tick")
	}

	ticks = h.fire(tick)
	if got := h.fake.count("list"); got != 2 {
		t.Fatalf("list calls = %d, want 2 after one tick", got)
	}
	next, ok := tickOf(ticks, pollConversations)
	if !ok {
		t.Fatal("tick should reschedule itself")
	}

	h.engine.Unmount()
	cmd, handled := h.engine.Update(next)
	if !handled || cmd != nil {
		t.Fatalf("tick after unmount should be swallowed, got handled=%v cmd=%v", handled, cmd != nil)
	}
	if got := h.fake.count("list"); got != 2 {
		t.Fatalf("list calls = %d after unmount, want 2", got)
	}
}

func TestOverlappingRefreshQueuesOne(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.engine.RefreshConversations()
	if first == nil {
		t.Fatal("expected a fetch")
	}
	if h.engine.RefreshConversations() != nil {
		t.Fatal("second refresh while in flight must not issue a fetch")
	}
	if h.engine.RefreshConversations() != nil {
		t.Fatal("third refresh while in flight must not issue a fetch")
	}

	h.settle(first)
	if got := h.fake.count("list"); got != 2 {
		t.Fatalf("list calls = %d, want the original plus one queued", got)
	}
	if h.engine.RefreshConversations() == nil {
		t.Fatal("refresh should issue once idle")
	}
}

func TestCreateThenDeleteBeforeResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.settle(h.engine.Mount())

	localID, createCmd, err := h.engine.CreateConversation("Draft")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if got := ids(h.engine.Conversations()); len(got) != 1 || got[0] != localID {
		t.Fatalf("placeholder not inserted: %v", got)
	}
	if !h.engine.Pending(localID) {
		t.Fatal("placeholder should be pending")
	}

	deleteCmd, err := h.engine.DeleteConversation(localID)
	if err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if deleteCmd != nil {
		t.Fatal("deleting a placeholder must not call the service yet")
	}

	h.settle(createCmd)

	if got := h.engine.Conversations(); len(got) != 0 {
		t.Fatalf("residual entries: %v", ids(got))
	}
	if h.fake.size() != 0 || h.fake.count("delete") != 1 {
		t.Fatalf("server should have deleted the created conversation, size=%d deletes=%d", h.fake.size(), h.fake.count("delete"))
	}
	if n := countKind(h.engine.TakeNotices(), NoticeError); n != 0 {
		t.Fatalf("unexpected error notices: %d", n)
	}

	h.settle(h.engine.RefreshConversations())
	if got := h.engine.Conversations(); len(got) != 0 {
		t.Fatalf("entry came back after refresh: %v", ids(got))
	}
}

func TestCreateDeleteRaceWithListFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	localID, createCmd, err := h.engine.CreateConversation("Draft")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if _, err := h.engine.DeleteConversation(localID); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}

	created := exec(createCmd)
	h.settle(h.engine.RefreshConversations())
	h.deliver(created)

	if got := h.engine.Conversations(); len(got) != 0 {
		t.Fatalf("residual entries: %v", ids(got))
	}
	if h.fake.size() != 0 {
		t.Fatal("server copy should be deleted")
	}
}

func TestCreateConfirmsPlaceholder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("older", "Older", base)
	h.settle(h.engine.Mount())

	localID, createCmd, err := h.engine.CreateConversation("")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if got := ids(h.engine.Conversations()); got[0] != localID {
		t.Fatalf("placeholder should lead the list: %v", got)
	}
	h.settle(h.engine.Open(localID))
	if h.engine.Active() != localID {
		t.Fatalf("active = %q", h.engine.Active())
	}
	if _, err := h.engine.SendMessage(localID, "hi"); !errors.Is(err, ErrConversationPending) {
		t.Fatalf("send to placeholder error = %v", err)
	}
	if cmd, err := h.engine.RenameConversation(localID, "Named later"); err != nil || cmd != nil {
		t.Fatalf("rename of placeholder should be local only, cmd=%v err=%v", cmd != nil, err)
	}

	h.settle(createCmd)

	conv, ok := h.engine.Conversation(localID)
	if !ok || conv.ID != "srv-1" || conv.Title != "Named later" {
		t.Fatalf("placeholder not confirmed: %#v ok=%v", conv, ok)
	}
	if h.engine.Active() != "srv-1" {
		t.Fatalf("active should follow the server id, got %q", h.engine.Active())
	}
	if title, _ := h.fake.title("srv-1"); title != "Named later" {
		t.Fatalf("rename not replayed, server title %q", title)
	}
	notices := h.engine.TakeNotices()
	if countKind(notices, NoticeCreated) != 1 {
		t.Fatalf("expected one created notice, got %#v", notices)
	}
	if h.engine.Pending("srv-1") {
		t.Fatal("confirmed conversation should not be pending")
	}
}

func TestCreateFailureRollsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.failNext("create", errors.New("connection refused"))

	_, cmd, err := h.engine.CreateConversation("Doomed")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	h.settle(cmd)

	if got := h.engine.Conversations(); len(got) != 0 {
		t.Fatalf("placeholder not rolled back: %v", ids(got))
	}
	notices := h.engine.TakeNotices()
	if len(notices) != 1 || notices[0].Kind != NoticeError || notices[0].Op != "create conversation" {
		t.Fatalf("unexpected notices %#v", notices)
	}
}

func TestRenameRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Old", base)
	h.settle(h.engine.Mount())
	h.fake.failNext("rename", errors.New("connection reset"))

	cmd, err := h.engine.RenameConversation("c1", "New")
	if err != nil {
		t.Fatalf("RenameConversation() error = %v", err)
	}
	if conv, _ := h.engine.Conversation("c1"); conv.Title != "New" {
		t.Fatalf("rename should apply optimistically, got %q", conv.Title)
	}
	if !h.engine.Pending("c1") {
		t.Fatal("rename in flight should be pending")
	}

	h.settle(cmd)

	if conv, _ := h.engine.Conversation("c1"); conv.Title != "Old" {
		t.Fatalf("title not restored, got %q", conv.Title)
	}
	notices := h.engine.TakeNotices()
	if len(notices) != 1 || notices[0].Op != "rename conversation" {
		t.Fatalf("unexpected notices %#v", notices)
	}
}

func TestStaleListDoesNotRevertRename(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Old", base)
	h.settle(h.engine.Mount())

	stale := exec(h.engine.RefreshConversations())
	renameCmd, err := h.engine.RenameConversation("c1", "New")
	if err != nil {
		t.Fatalf("RenameConversation() error = %v", err)
	}
	h.deliver(stale)
	if conv, _ := h.engine.Conversation("c1"); conv.Title != "New" {
		t.Fatalf("stale list reverted the rename: %q", conv.Title)
	}

	h.settle(renameCmd)
	h.settle(h.engine.RefreshConversations())
	if conv, _ := h.engine.Conversation("c1"); conv.Title != "New" {
		t.Fatalf("confirmed title = %q", conv.Title)
	}
}

func TestDeleteIsNotResurrected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Doomed", base)
	h.settle(h.engine.Mount())
	h.settle(h.engine.Open("c1"))
	h.fake.failNext("delete", errors.New("timeout"))

	cmd, err := h.engine.DeleteConversation("c1")
	if err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if h.engine.Active() != "" {
		t.Fatal("deleting the open conversation should close it")
	}
	h.settle(cmd)
	notices := h.engine.TakeNotices()
	if countKind(notices, NoticeNavigateAway) != 1 || countKind(notices, NoticeError) != 1 {
		t.Fatalf("unexpected notices %#v", notices)
	}

	h.settle(h.engine.RefreshConversations())
	if _, ok := h.engine.Conversation("c1"); ok {
		t.Fatal("deleted conversation came back from the list")
	}

	if _, err := h.engine.DeleteConversation("c1"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestSendAppendsExchange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Chat", base)
	h.fake.seedMessage("c1", remote.RoleUser, "earlier", base.Add(-time.Minute))
	h.settle(h.engine.Mount())
	h.settle(h.engine.Open("c1"))

	sendCmd, err := h.engine.SendMessage("c1", "  hello  ")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := h.engine.Outbox("c1"); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("outbox = %v", got)
	}
	if len(h.engine.Messages("c1")) != 1 {
		t.Fatal("nothing should be appended before the reply")
	}

	h.settle(sendCmd)

	msgs := h.engine.Messages("c1")
	if len(msgs) != 3 {
		t.Fatalf("messages = %#v", msgs)
	}
	if msgs[1].Role != remote.RoleUser || msgs[1].Content != "hello" {
		t.Fatalf("user message = %#v", msgs[1])
	}
	if msgs[2].Role != remote.RoleAssistant || msgs[2].Content != "echo: hello" {
		t.Fatalf("reply = %#v", msgs[2])
	}
	if len(h.engine.Outbox("c1")) != 0 || h.engine.Pending("c1") {
		t.Fatal("outbox should drain")
	}
}

func TestPollsDuringSendAreDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Chat", base)
	h.settle(h.engine.Mount())
	ticks := h.settle(h.engine.Open("c1"))
	tick, ok := tickOf(ticks, pollMessages)
	if !ok {
		t.Fatal("open should schedule a message tick")
	}

	sendCmd, err := h.engine.SendMessage("c1", "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	tickCmd, _ := h.engine.Update(tick)
	during := exec(tickCmd)
	h.deliver(during)

	stale := exec(h.engine.RefreshMessages("c1"))
	h.settle(sendCmd)
	h.deliver(stale)

	msgs := h.engine.Messages("c1")
	if len(msgs) != 2 || msgs[0].Content != "hello" {
		t.Fatalf("a poll overwrote the exchange: %#v", msgs)
	}

	h.settle(h.engine.RefreshMessages("c1"))
	if got := len(h.engine.Messages("c1")); got != 2 {
		t.Fatalf("fresh poll should agree with the server, got %d messages", got)
	}
}

func TestSendToVanishedConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Expired", base)
	h.fake.seedMessage("c1", remote.RoleUser, "old question", base)
	h.fake.seedMessage("c1", remote.RoleAssistant, "old answer", base.Add(time.Second))
	h.settle(h.engine.Mount())
	h.settle(h.engine.Open("c1"))
	before := h.engine.Messages("c1")
	if len(before) != 2 {
		t.Fatalf("setup: messages = %#v", before)
	}

	h.fake.expire("c1")
	first, err := h.engine.SendMessage("c1", "are you there?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	second, err := h.engine.SendMessage("c1", "hello?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	h.settle(tea.Batch(first, second))

	if got := h.engine.Messages("c1"); !reflect.DeepEqual(got, before) {
		t.Fatalf("message list changed: %#v", got)
	}
	notices := h.engine.TakeNotices()
	if n := countKind(notices, NoticeConversationVanished); n != 1 {
		t.Fatalf("vanished raised %d times: %#v", n, notices)
	}
	if countKind(notices, NoticeError) != 0 {
		t.Fatalf("vanished must not surface as a generic error: %#v", notices)
	}
	if _, ok := h.engine.Conversation("c1"); ok {
		t.Fatal("vanished conversation still listed")
	}
	if h.engine.Active() != "" {
		t.Fatal("vanished conversation should be closed")
	}
}

func TestListWithoutActiveRaisesVanished(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Expiring", base)
	h.fake.seed("c2", "Staying", base)
	h.settle(h.engine.Mount())
	h.settle(h.engine.Open("c1"))

	h.fake.expire("c1")
	h.settle(h.engine.RefreshConversations())
	h.settle(h.engine.RefreshConversations())

	notices := h.engine.TakeNotices()
	if n := countKind(notices, NoticeConversationVanished); n != 1 {
		t.Fatalf("vanished raised %d times", n)
	}
	if got := ids(h.engine.Conversations()); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Fatalf("list = %v", got)
	}
}

func TestStaleMessagePollAfterSwitch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("A", "Alpha", base)
	h.fake.seed("B", "Beta", base)
	h.fake.seedMessage("A", remote.RoleUser, "from A", base)
	h.fake.seedMessage("B", remote.RoleUser, "from B", base)
	h.settle(h.engine.Mount())

	pendingA := exec(h.engine.Open("A"))
	h.settle(h.engine.Open("B"))
	h.deliver(pendingA)

	if got := h.engine.Messages("A"); len(got) != 0 {
		t.Fatalf("stale fetch for A applied: %#v", got)
	}
	got := h.engine.Messages("B")
	if len(got) != 1 || got[0].Content != "from B" {
		t.Fatalf("messages for B = %#v", got)
	}
	if h.engine.Active() != "B" {
		t.Fatalf("active = %q", h.engine.Active())
	}
}

func TestUnauthenticatedStopsPolling(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.failNext("list", &remote.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid authentication token"})

	ticks := h.settle(h.engine.Mount())
	notices := h.engine.TakeNotices()
	if len(notices) != 1 || notices[0].Kind != NoticeUnauthenticated {
		t.Fatalf("unexpected notices %#v", notices)
	}
	tick, ok := tickOf(ticks, pollConversations)
	if !ok {
		t.Fatal("missing tick")
	}
	if cmd, _ := h.engine.Update(tick); cmd != nil {
		t.Fatal("polling should stop after an auth failure")
	}
}

func TestMutationValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Chat", base)
	h.settle(h.engine.Mount())

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"blank message", func() error { _, err := h.engine.SendMessage("c1", "   "); return err }, nil},
		{"long title", func() error { _, _, err := h.engine.CreateConversation(string(long)); return err }, nil},
		{"blank rename", func() error { _, err := h.engine.RenameConversation("c1", " "); return err }, nil},
		{"unknown send", func() error { _, err := h.engine.SendMessage("nope", "hi"); return err }, ErrUnknownConversation},
		{"unknown rename", func() error { _, err := h.engine.RenameConversation("nope", "x"); return err }, ErrUnknownConversation},
	}
	for _, tt := range tests {
		err := tt.run()
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if tt.want != nil {
			if !errors.Is(err, tt.want) {
				t.Fatalf("%s: error = %v, want %v", tt.name, err, tt.want)
			}
			continue
		}
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			t.Fatalf("%s: expected validation.Errors, got %T", tt.name, err)
		}
	}
	if got := len(h.engine.Conversations()); got != 1 {
		t.Fatalf("rejected create left %d conversations", got)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fake.seed("c1", "Chat", base)
	h.fake.seedMessage("c1", remote.RoleUser, "hi", base)
	h.settle(h.engine.Mount())
	h.settle(h.engine.Open("c1"))

	snap := h.engine.Snapshot()
	snap.Conversations[0].Title = "mutated"
	snap.Messages["c1"][0].Content = "mutated"

	if conv, _ := h.engine.Conversation("c1"); conv.Title != "Chat" {
		t.Fatal("snapshot shares conversation storage")
	}
	if msgs := h.engine.Messages("c1"); msgs[0].Content != "hi" {
		t.Fatal("snapshot shares message storage")
	}
	if snap.Active != "c1" {
		t.Fatalf("snapshot active = %q", snap.Active)
	}
	if _, handled := h.engine.Update(tea.KeyMsg{}); handled {
		t.Fatal("engine should ignore foreign messages")
	}
}
