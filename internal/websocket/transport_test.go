package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatclient/internal/events"
	"chatclient/internal/testserver"
	"chatclient/pkg/types"
)

type chanSink struct {
	ch chan events.Event
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan events.Event, 64)}
}

func (s *chanSink) Publish(e events.Event) error {
	s.ch <- e
	return nil
}

func (s *chanSink) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newTestTransport(srv *testserver.Server, sink events.Sink, policy ReconnectPolicy) *Transport {
	return NewTransport(Options{
		URL:          srv.SocketURL(),
		DialTimeout:  2 * time.Second,
		PingInterval: 5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Second,
		BufferSize:   16,
		Reconnect:    policy,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)
}

func TestTransport_ConnectRequiresToken(t *testing.T) {
	srv := testserver.New(t)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})

	if err := tr.Connect(context.Background(), ""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
	if tr.State() != StateClosed {
		t.Error("transport should stay closed")
	}
}

func TestTransport_RejectedHandshake(t *testing.T) {
	srv := testserver.New(t)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})

	err := tr.Connect(context.Background(), "not-a-token")
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Errorf("expected ErrHandshakeRejected, got %v", err)
	}
}

func TestTransport_ReceivesPresenceEvents(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	srv.AddUser(2, "bob", "p", false)

	sink := newChanSink()
	tr := newTestTransport(srv, sink, ReconnectPolicy{})
	defer tr.Close()

	if err := tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tr.State() != StateOpen {
		t.Fatal("transport should be open")
	}
	if !srv.WaitConnected(1, time.Second) {
		t.Fatal("server never saw the connection")
	}

	other := newTestTransport(srv, newChanSink(), ReconnectPolicy{})
	defer other.Close()
	if err := other.Connect(context.Background(), srv.IssueToken(2, time.Hour)); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	ev := sink.next(t)
	online, ok := ev.(events.UserOnline)
	if !ok || online.UserID != 2 || online.Username != "bob" {
		t.Fatalf("unexpected event %#v", ev)
	}

	other.Close()
	ev = sink.next(t)
	if off, ok := ev.(events.UserOffline); !ok || off.UserID != 2 {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestTransport_SendRequiresOpenConnection(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	sink := newChanSink()
	tr := newTestTransport(srv, sink, ReconnectPolicy{})

	if err := tr.Send(NewDirect(2, "hi")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if err := tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(Outbound{Type: types.EnvelopePing}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := sink.next(t).(events.Pong); !ok {
		t.Fatal("expected a PONG event")
	}

	if err := tr.Send(NewDirect(2, "hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack, ok := sink.next(t).(events.MessageAck); !ok || ack.TargetID != 2 {
		t.Fatalf("expected ack for receiver 2, got %#v", ack)
	}

	received := srv.Received(1)
	if len(received) != 2 || received[1].Type != types.EnvelopePrivateMessage || received[1].ReceiverID != 2 {
		t.Errorf("server received %+v", received)
	}
}

func TestTransport_ConnectReplacesPreviousConnection(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)

	closed := make(chan error, 1)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})
	tr.OnClosed(func(err error) { closed <- err })
	defer tr.Close()

	token := srv.IssueToken(1, time.Hour)
	if err := tr.Connect(context.Background(), token); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := tr.conn
	if err := tr.Connect(context.Background(), token); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if tr.conn == first {
		t.Fatal("second Connect should create a new connection")
	}
	if !first.ClosedByClient() {
		t.Error("previous connection should have been closed by the client")
	}

	select {
	case err := <-closed:
		t.Fatalf("replacing a connection must not report a close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTransport_ServerCloseFiresOnClosed(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)

	closed := make(chan error, 1)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})
	tr.OnClosed(func(err error) { closed <- err })

	if err := tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !srv.WaitConnected(1, time.Second) {
		t.Fatal("server never saw the connection")
	}
	srv.DropConnections()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed was not called")
	}
	if tr.State() != StateClosed {
		t.Error("transport should be closed after a server close")
	}
}

func TestTransport_ClientCloseIsSilent(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)

	closed := make(chan error, 1)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})
	tr.OnClosed(func(err error) { closed <- err })

	if err := tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
	if !srv.WaitDisconnected(1, time.Second) {
		t.Error("server should see the disconnect")
	}

	select {
	case err := <-closed:
		t.Fatalf("client close must not fire OnClosed: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTransport_ReconnectDisabledByDefault(t *testing.T) {
	srv := testserver.New(t)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{})

	if tr.ReconnectEnabled() {
		t.Error("zero policy should be disabled")
	}
	if err := tr.Reconnect(context.Background(), "x"); !errors.Is(err, ErrReconnectDisabled) {
		t.Errorf("expected ErrReconnectDisabled, got %v", err)
	}
}

func TestTransport_ReconnectSucceeds(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{
		Enabled:         true,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxAttempts:     3,
	})
	defer tr.Close()

	if err := tr.Reconnect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if tr.State() != StateOpen {
		t.Error("transport should be open after reconnect")
	}
}

func TestTransport_ReconnectStopsOnRejectedToken(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	token := srv.IssueToken(1, time.Hour)
	srv.RevokeToken(token)

	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{
		Enabled:         true,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxAttempts:     5,
	})

	err := tr.Reconnect(context.Background(), token)
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected ErrHandshakeRejected, got %v", err)
	}
	if hits := srv.Hits("/ws/chat"); hits != 1 {
		t.Errorf("rejected token should not be retried, got %d attempts", hits)
	}
}

func TestTransport_ReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	token := srv.IssueToken(1, time.Hour)
	srv.FailNext("/ws/chat", 10)

	tr := newTestTransport(srv, newChanSink(), ReconnectPolicy{
		Enabled:         true,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxAttempts:     3,
	})

	if err := tr.Reconnect(context.Background(), token); err == nil {
		t.Fatal("expected reconnect to give up")
	}
	if hits := srv.Hits("/ws/chat"); hits != 3 {
		t.Errorf("attempts = %d, want 3", hits)
	}
	if tr.State() != StateClosed {
		t.Error("transport should remain closed")
	}
}

func TestTransport_SendsKeepaliveEnvelope(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)
	sink := newChanSink()
	tr := NewTransport(Options{
		URL:          srv.SocketURL(),
		DialTimeout:  2 * time.Second,
		PingInterval: 100 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)

	if err := tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	deadline := time.After(2 * time.Second)
	for {
		var ev events.Event
		select {
		case ev = <-sink.ch:
		case <-deadline:
			t.Fatal("no PONG for the keepalive")
		}
		if _, ok := ev.(events.Pong); ok {
			break
		}
	}

	var pings int
	for _, e := range srv.Received(1) {
		if e.Type == types.EnvelopePing {
			pings++
		}
	}
	if pings == 0 {
		t.Errorf("server received %+v, want a PING", srv.Received(1))
	}
}

func TestTransport_CloseDuringDialDiscardsSocket(t *testing.T) {
	srv := testserver.New(t)
	srv.AddUser(1, "al", "p", false)

	started := make(chan struct{})
	release := make(chan struct{})
	dialer := &websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			close(started)
			<-release
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	tr := NewTransport(Options{
		URL:         srv.SocketURL(),
		DialTimeout: 2 * time.Second,
		Dialer:      dialer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, newChanSink())

	result := make(chan error, 1)
	go func() { result <- tr.Connect(context.Background(), srv.IssueToken(1, time.Hour)) }()

	<-started
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosedDuringDial) {
			t.Fatalf("Connect = %v, want ErrClosedDuringDial", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return")
	}
	if tr.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", tr.State())
	}
	if !srv.WaitDisconnected(1, 2*time.Second) {
		t.Error("socket dialed before Close is still connected")
	}
}

func TestState_String(t *testing.T) {
	if StateOpen.String() != "OPEN" || StateClosed.String() != "CLOSED" {
		t.Error("unexpected state names")
	}
}
