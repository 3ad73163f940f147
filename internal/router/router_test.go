package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"chatclient/internal/transcript"
	"chatclient/internal/websocket"
	"chatclient/pkg/types"
)

type mockHistory struct {
	mu       sync.Mutex
	private  map[int64][]types.Message
	group    map[int64][]types.Message
	members  map[int64][]types.User
	fail     bool
	block    chan struct{}
	requests []int64
}

func newMockHistory() *mockHistory {
	return &mockHistory{
		private: make(map[int64][]types.Message),
		group:   make(map[int64][]types.Message),
		members: make(map[int64][]types.User),
	}
}

func (m *mockHistory) PrivateHistory(ctx context.Context, token string, peerID int64) ([]types.Message, error) {
	m.mu.Lock()
	m.requests = append(m.requests, peerID)
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	if m.fail {
		return nil, errors.New("history unavailable")
	}
	return m.private[peerID], nil
}

func (m *mockHistory) GroupHistory(ctx context.Context, token string, groupID int64) ([]types.Message, error) {
	if m.fail {
		return nil, errors.New("history unavailable")
	}
	return m.group[groupID], nil
}

func (m *mockHistory) GroupMembers(ctx context.Context, token string, groupID int64) ([]types.User, error) {
	if m.fail {
		return nil, errors.New("members unavailable")
	}
	return m.members[groupID], nil
}

type staticTokens struct {
	token    string
	identity types.Identity
}

func (s staticTokens) Token() string            { return s.token }
func (s staticTokens) Identity() types.Identity { return s.identity }

type mockSender struct {
	mu   sync.Mutex
	sent []websocket.Outbound
	err  error
}

func (m *mockSender) Send(msg websocket.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func direct(id, from, to int64, minute int, content string) types.Message {
	return types.Message{
		ID: id, SenderID: from, ReceiverID: to, Content: content,
		Timestamp: t0.Add(time.Duration(minute) * time.Minute), Scope: types.ScopeDirect,
	}
}

func newTestRouter(h *mockHistory, s *mockSender, opts Options) (*Router, *transcript.Transcript) {
	tr := transcript.New()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(h, staticTokens{token: "T", identity: types.Identity{ID: 1, Username: "al"}}, s, tr, opts), tr
}

func TestRouter_SetActiveLoadsHistoryOldestFirst(t *testing.T) {
	h := newMockHistory()
	h.private[7] = []types.Message{
		direct(3, 7, 1, 3, "third"),
		direct(2, 1, 7, 2, "second"),
		direct(1, 7, 1, 1, "first"),
	}
	r, tr := newTestRouter(h, &mockSender{}, Options{})

	if err := r.SetActive(context.Background(), types.Direct(7, "carol")); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message.Content != want {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message.Content, want)
		}
	}
	if _, visible := r.Members(); visible {
		t.Error("member list must be hidden for a direct conversation")
	}
}

func TestRouter_SetActiveDropsPreviousConversation(t *testing.T) {
	h := newMockHistory()
	h.private[7] = []types.Message{direct(1, 7, 1, 5, "from carol")}
	h.private[8] = []types.Message{direct(2, 8, 1, 1, "from dave"), direct(3, 1, 8, 0, "to dave")}
	r, tr := newTestRouter(h, &mockSender{}, Options{})
	ctx := context.Background()

	_ = r.SetActive(ctx, types.Direct(7, "carol"))
	r.ApplyInbound(direct(4, 7, 1, 6, "live"))
	_ = r.SetActive(ctx, types.Direct(8, "dave"))

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	for i, e := range entries {
		if e.Message.SenderID == 7 {
			t.Errorf("entry from previous conversation survived: %+v", e.Message)
		}
		if i > 0 && e.Timestamp.Before(entries[i-1].Timestamp) {
			t.Errorf("transcript not ordered at %d", i)
		}
	}
}

func TestRouter_StaleHistoryIsDiscarded(t *testing.T) {
	h := newMockHistory()
	h.private[7] = []types.Message{direct(1, 7, 1, 0, "stale")}
	release := make(chan struct{})
	h.block = release
	r, tr := newTestRouter(h, &mockSender{}, Options{})

	done := make(chan struct{})
	go func() {
		_ = r.SetActive(context.Background(), types.Direct(7, "carol"))
		close(done)
	}()

	// Wait for the first request, then switch while it is in flight.
	deadline := time.Now().Add(time.Second)
	for {
		h.mu.Lock()
		n := len(h.requests)
		h.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	_ = r.SetActive(context.Background(), types.GroupConversation(types.Group{ID: 3, Name: "ops"}))

	close(release)
	<-done

	if tr.Len() != 0 {
		t.Errorf("late history leaked into the new conversation: %+v", tr.Entries())
	}
}

func TestRouter_GroupLoadsMembers(t *testing.T) {
	h := newMockHistory()
	h.group[3] = []types.Message{{ID: 1, SenderID: 2, GroupID: 3, Content: "yo", Timestamp: t0, Scope: types.ScopeGroup}}
	h.members[3] = []types.User{{ID: 1, Username: "al"}, {ID: 2, Username: "bob"}}
	r, tr := newTestRouter(h, &mockSender{}, Options{})

	conv := types.GroupConversation(types.Group{ID: 3, Name: "ops", OwnerID: 1})
	if err := r.SetActive(context.Background(), conv); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	members, visible := r.Members()
	if !visible || len(members) != 2 {
		t.Errorf("members = %+v visible = %v", members, visible)
	}
	if tr.Len() != 1 {
		t.Errorf("transcript len = %d, want 1", tr.Len())
	}
}

func TestRouter_LoadFailureKeepsConversation(t *testing.T) {
	h := newMockHistory()
	h.fail = true
	r, tr := newTestRouter(h, &mockSender{}, Options{})

	if err := r.SetActive(context.Background(), types.Direct(7, "carol")); err != nil {
		t.Fatalf("history failure should only be logged: %v", err)
	}
	if conv, ok := r.Active(); !ok || conv.PeerID != 7 {
		t.Error("conversation should be active despite the failure")
	}
	if tr.Len() != 0 {
		t.Error("transcript should be empty")
	}
}

func TestRouter_SetActiveRejectsInvalidConversation(t *testing.T) {
	r, _ := newTestRouter(newMockHistory(), &mockSender{}, Options{})
	if err := r.SetActive(context.Background(), types.Conversation{Kind: types.ScopeDirect}); !errors.Is(err, types.ErrInvalidConversation) {
		t.Errorf("expected ErrInvalidConversation, got %v", err)
	}
	if _, ok := r.Active(); ok {
		t.Error("invalid conversation must not become active")
	}
}

func TestRouter_ComposeOutboundValidation(t *testing.T) {
	sender := &mockSender{}
	r, _ := newTestRouter(newMockHistory(), sender, Options{})

	if err := r.ComposeOutbound("hi"); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("expected ErrNoActiveConversation, got %v", err)
	}
	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))
	for _, content := range []string{"", "   ", "\n\t"} {
		if err := r.ComposeOutbound(content); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("ComposeOutbound(%q) = %v, want ErrEmptyContent", content, err)
		}
	}
	if err := r.ComposeOutbound(strings.Repeat("x", types.MaxContentBytes+1)); !errors.Is(err, types.ErrContentTooLarge) {
		t.Errorf("expected ErrContentTooLarge, got %v", err)
	}
	if sender.count() != 0 {
		t.Errorf("rejected content reached the sender %d times", sender.count())
	}
}

func TestRouter_ComposeOutboundBuildsEnvelope(t *testing.T) {
	sender := &mockSender{}
	r, _ := newTestRouter(newMockHistory(), sender, Options{})
	ctx := context.Background()

	_ = r.SetActive(ctx, types.Direct(7, "carol"))
	if err := r.ComposeOutbound("  hello  "); err != nil {
		t.Fatalf("ComposeOutbound: %v", err)
	}
	_ = r.SetActive(ctx, types.GroupConversation(types.Group{ID: 3, Name: "ops"}))
	if err := r.ComposeOutbound("team"); err != nil {
		t.Fatalf("ComposeOutbound: %v", err)
	}

	want := []websocket.Outbound{
		{Type: types.EnvelopePrivateMessage, Content: "hello", ReceiverID: 7},
		{Type: types.EnvelopeGroupMessage, Content: "team", GroupID: 3},
	}
	if len(sender.sent) != len(want) {
		t.Fatalf("sent = %+v", sender.sent)
	}
	for i := range want {
		if sender.sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, sender.sent[i], want[i])
		}
	}
}

func TestRouter_ComposeOutboundThrottled(t *testing.T) {
	sender := &mockSender{}
	r, _ := newTestRouter(newMockHistory(), sender, Options{SendRate: 0.001, SendBurst: 2})
	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))

	_ = r.ComposeOutbound("one")
	_ = r.ComposeOutbound("two")
	if err := r.ComposeOutbound("three"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if sender.count() != 2 {
		t.Errorf("sent %d, want 2", sender.count())
	}
}

func TestRouter_ComposeOutboundSendError(t *testing.T) {
	sender := &mockSender{err: websocket.ErrNotConnected}
	r, _ := newTestRouter(newMockHistory(), sender, Options{})
	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))

	if err := r.ComposeOutbound("hi"); !errors.Is(err, websocket.ErrNotConnected) {
		t.Errorf("expected wrapped ErrNotConnected, got %v", err)
	}
}

func TestRouter_ApplyInboundFiltersByConversation(t *testing.T) {
	r, tr := newTestRouter(newMockHistory(), &mockSender{}, Options{})

	if r.ApplyInbound(direct(1, 7, 1, 0, "no conversation")) {
		t.Error("nothing is appended without an active conversation")
	}

	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))
	cases := []struct {
		msg  types.Message
		want bool
	}{
		{direct(1, 7, 1, 1, "from peer"), true},
		{direct(2, 1, 7, 2, "self to peer"), true},
		{direct(3, 8, 1, 3, "from someone else"), false},
		{direct(4, 1, 8, 4, "self to someone else"), false},
		{types.Message{ID: 5, SenderID: 7, GroupID: 7, Scope: types.ScopeGroup, Timestamp: t0}, false},
		{direct(1, 7, 1, 1, "duplicate"), false},
	}
	for _, c := range cases {
		if got := r.ApplyInbound(c.msg); got != c.want {
			t.Errorf("ApplyInbound(%q) = %v, want %v", c.msg.Content, got, c.want)
		}
	}
	if tr.Len() != 2 {
		t.Errorf("transcript len = %d, want 2", tr.Len())
	}

	_ = r.SetActive(context.Background(), types.GroupConversation(types.Group{ID: 3, Name: "ops"}))
	if !r.ApplyInbound(types.Message{ID: 6, SenderID: 8, GroupID: 3, Scope: types.ScopeGroup, Timestamp: t0}) {
		t.Error("group message for the active group should be appended")
	}
	if r.ApplyInbound(types.Message{ID: 7, SenderID: 8, GroupID: 4, Scope: types.ScopeGroup, Timestamp: t0}) {
		t.Error("group message for another group must be dropped")
	}
}

func TestRouter_ApplyNoticeAlwaysAppends(t *testing.T) {
	r, tr := newTestRouter(newMockHistory(), &mockSender{}, Options{})
	r.ApplyNotice("bob 上线了")
	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))
	r.ApplyNotice("bob 下线了")

	if tr.Len() != 1 || tr.Entries()[0].Text != "bob 下线了" {
		t.Errorf("entries = %+v", tr.Entries())
	}
}

func TestRouter_Clear(t *testing.T) {
	r, tr := newTestRouter(newMockHistory(), &mockSender{}, Options{})
	_ = r.SetActive(context.Background(), types.Direct(7, "carol"))
	r.ApplyInbound(direct(1, 7, 1, 0, "hi"))
	r.Clear()

	if _, ok := r.Active(); ok {
		t.Error("Clear should drop the active conversation")
	}
	if tr.Len() != 0 {
		t.Error("Clear should empty the transcript")
	}
	if err := r.ComposeOutbound("hi"); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("expected ErrNoActiveConversation, got %v", err)
	}
}
