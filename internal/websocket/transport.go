// Package websocket is the client side of the chat socket: one connection
// at a time, decoded into typed events and published to a sink.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"chatclient/internal/events"
	"chatclient/internal/metrics"
)

// State is the connection state seen by callers.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// ReconnectPolicy bounds retries after an unexpected close. The zero value
// is disabled.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxAttempts     uint
}

// Options configures a Transport.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	Reconnect    ReconnectPolicy
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
	Metrics      metrics.Recorder
}

// Transport owns at most one live Connection.
type Transport struct {
	opts   Options
	sink   events.Sink
	dialer *websocket.Dialer
	logger *slog.Logger
	rec    metrics.Recorder

	mu       sync.Mutex
	conn     *Connection
	onClosed func(error)

	// generation counts Close calls; a dial that started under an older
	// generation is discarded.
	generation uint64
}

// NewTransport builds a closed transport that publishes into sink.
func NewTransport(opts Options, sink events.Sink) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	return &Transport{
		opts:   opts,
		sink:   sink,
		dialer: dialer,
		logger: logger.With(slog.String("component", "transport")),
		rec:    rec,
	}
}

// OnClosed registers the callback for closes the client did not ask for.
func (t *Transport) OnClosed(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// State reports whether a connection is open.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return StateClosed
	}
	return StateOpen
}

// ReconnectEnabled reports whether Reconnect will try at all.
func (t *Transport) ReconnectEnabled() bool {
	return t.opts.Reconnect.Enabled
}

// Connect dials the socket with token, closing any previous connection
// first so at most one is ever live. A Close that lands while the dial is
// in flight wins: the new socket is closed and ErrClosedDuringDial is
// returned.
func (t *Transport) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := t.Close(); err != nil {
		t.logger.Debug("closing previous connection", slog.String("error", err.Error()))
	}
	t.mu.Lock()
	generation := t.generation
	t.mu.Unlock()

	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return fmt.Errorf("parse socket URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx := ctx
	if t.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
	}

	ws, resp, err := t.dialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.rec.RecordConnect(metrics.ResultError)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
		}
		return fmt.Errorf("dial chat socket: %w", err)
	}

	conn := newConnection(ws, connectionOptions{
		BufferSize:   t.opts.BufferSize,
		WriteTimeout: t.opts.WriteTimeout,
		PingInterval: t.opts.PingInterval,
		ReadTimeout:  t.opts.ReadTimeout,
	}, t.logger)

	t.mu.Lock()
	if t.generation != generation {
		t.mu.Unlock()
		t.logger.Debug("discarding socket dialed before close", slog.String("conn_id", conn.ID()))
		_ = conn.Close()
		close(conn.readDone)
		return ErrClosedDuringDial
	}
	t.conn = conn
	t.mu.Unlock()

	t.rec.RecordConnect(metrics.ResultOK)
	t.logger.Info("socket connected", slog.String("conn_id", conn.ID()))

	go t.readPump(conn)
	return nil
}

func (t *Transport) readPump(conn *Connection) {
	err := conn.readLoop(func(data []byte) {
		ev, err := Decode(data)
		if err != nil {
			t.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
			return
		}
		t.rec.RecordEnvelopeReceived(ev.Kind())
		if err := t.sink.Publish(ev); err != nil {
			t.logger.Warn("event not published",
				slog.String("kind", ev.Kind()),
				slog.String("error", err.Error()),
			)
		}
	})
	_ = conn.shutdown()

	t.mu.Lock()
	current := t.conn == conn
	if current {
		t.conn = nil
	}
	cb := t.onClosed
	t.mu.Unlock()
	close(conn.readDone)

	if !current || conn.ClosedByClient() {
		t.logger.Debug("socket closed by client", slog.String("conn_id", conn.ID()))
		return
	}

	t.logger.Warn("socket closed unexpectedly",
		slog.String("conn_id", conn.ID()),
		slog.String("error", errString(err)),
	)
	if cb != nil {
		cb(err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Send writes msg on the open connection.
func (t *Transport) Send(msg Outbound) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	t.rec.RecordEnvelopeSent(msg.Type)
	return nil
}

// Close closes the current connection without firing OnClosed and waits
// until its frames are no longer published. It also cancels any Connect
// still dialing.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.generation++
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.logger.Debug("closing socket", slog.String("conn_id", conn.ID()))
	err := conn.Close()
	<-conn.readDone
	return err
}

// Reconnect retries Connect under the configured bounded exponential
// backoff. A rejected handshake stops the retries at once.
func (t *Transport) Reconnect(ctx context.Context, token string) error {
	policy := t.opts.Reconnect
	if !policy.Enabled {
		return ErrReconnectDisabled
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Info("reconnect attempt failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	}
	if policy.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(policy.MaxAttempts))
	}
	if policy.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsed))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := t.Connect(ctx, token)
		if errors.Is(err, ErrHandshakeRejected) || errors.Is(err, ErrEmptyToken) || errors.Is(err, ErrClosedDuringDial) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}
