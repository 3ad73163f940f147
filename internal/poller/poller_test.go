package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatclient/internal/events"
	"chatclient/pkg/types"
)

type mockSource struct {
	mu       sync.Mutex
	messages []types.Message
	err      error
	calls    atomic.Int32
}

func (m *mockSource) OfflineMessages(ctx context.Context, token string) ([]types.Message, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]types.Message, len(m.messages))
	copy(out, m.messages)
	return out, nil
}

type tokenFunc func() string

func (f tokenFunc) Token() string            { return f() }
func (f tokenFunc) Identity() types.Identity { return types.Identity{ID: 1, Username: "al"} }

type sliceSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sliceSink) Publish(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *sliceSink) snapshot() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fromPeer(id int64, content string) types.Message {
	return types.Message{ID: id, SenderID: 7, SenderUsername: "carol", ReceiverID: 1, Content: content}
}

func TestPoller_PollPublishesBacklogThenMessages(t *testing.T) {
	src := &mockSource{messages: []types.Message{fromPeer(1, "a"), fromPeer(2, "b")}}
	sink := &sliceSink{}
	p := NewPoller(src, tokenFunc(func() string { return "T" }), sink, time.Minute, quietLogger(), nil)

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 2 {
		t.Errorf("published %d, want 2", n)
	}

	got := sink.snapshot()
	if len(got) != 3 {
		t.Fatalf("events = %#v", got)
	}
	if b, ok := got[0].(events.OfflineBacklog); !ok || b.Count != 2 {
		t.Errorf("first event = %#v, want OfflineBacklog{2}", got[0])
	}
	for _, e := range got[1:] {
		pm, ok := e.(events.PrivateMessage)
		if !ok || !pm.Backlog || pm.Message.Scope != types.ScopeDirect {
			t.Errorf("unexpected event %#v", e)
		}
	}
}

func TestPoller_RepeatedPollAddsNothing(t *testing.T) {
	src := &mockSource{messages: []types.Message{fromPeer(1, "a"), fromPeer(2, "b")}}
	sink := &sliceSink{}
	p := NewPoller(src, tokenFunc(func() string { return "T" }), sink, time.Minute, quietLogger(), nil)

	_, _ = p.Poll(context.Background())
	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 || len(sink.snapshot()) != 3 {
		t.Errorf("second poll published %d, events = %d", n, len(sink.snapshot()))
	}

	src.mu.Lock()
	src.messages = append(src.messages, fromPeer(3, "c"))
	src.mu.Unlock()
	if n, _ := p.Poll(context.Background()); n != 1 {
		t.Errorf("new message should be delivered once, got %d", n)
	}
}

func TestPoller_EmptyBacklogPublishesNothing(t *testing.T) {
	sink := &sliceSink{}
	p := NewPoller(&mockSource{}, tokenFunc(func() string { return "T" }), sink, time.Minute, quietLogger(), nil)

	if n, err := p.Poll(context.Background()); n != 0 || err != nil {
		t.Errorf("Poll = %d, %v", n, err)
	}
	if len(sink.snapshot()) != 0 {
		t.Error("no notice for an empty backlog")
	}
}

func TestPoller_NoTokenSkipsRequest(t *testing.T) {
	src := &mockSource{}
	p := NewPoller(src, tokenFunc(func() string { return "" }), &sliceSink{}, time.Minute, quietLogger(), nil)

	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if src.calls.Load() != 0 {
		t.Error("no request without a session")
	}
}

func TestPoller_ErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	p := NewPoller(&mockSource{err: boom}, tokenFunc(func() string { return "T" }), &sliceSink{}, time.Minute, quietLogger(), nil)

	if _, err := p.Poll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestPoller_StartPollsImmediatelyAndOnTick(t *testing.T) {
	src := &mockSource{}
	p := NewPoller(src, tokenFunc(func() string { return "T" }), &sliceSink{}, 20*time.Millisecond, quietLogger(), nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", src.calls.Load())
	}

	p.Stop()
	p.Stop()
	if p.Running() {
		t.Error("poller should be stopped")
	}
	calls := src.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Error("polling continued after Stop")
	}
}

func TestPoller_StopForgetsDeliveredIDs(t *testing.T) {
	src := &mockSource{messages: []types.Message{fromPeer(1, "a")}}
	sink := &sliceSink{}
	p := NewPoller(src, tokenFunc(func() string { return "T" }), sink, time.Hour, quietLogger(), nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(sink.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if n, _ := p.Poll(context.Background()); n != 1 {
		t.Errorf("a new session should see the backlog again, got %d", n)
	}
}

func TestPoller_SessionEndedDuringFetchPublishesNothing(t *testing.T) {
	src := &mockSource{messages: []types.Message{fromPeer(1, "a")}}
	sink := &sliceSink{}
	var calls atomic.Int32
	tokens := tokenFunc(func() string {
		if calls.Add(1) == 1 {
			return "T"
		}
		return ""
	})
	p := NewPoller(src, tokens, sink, time.Hour, quietLogger(), nil)

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 || len(sink.snapshot()) != 0 {
		t.Errorf("published %d events for an ended session", len(sink.snapshot()))
	}
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", src.calls.Load())
	}
}
