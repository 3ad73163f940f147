package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatclient/pkg/types"
)

type connectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// Connection wraps one established client socket.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every
// data frame goes through writeLoop. Control frames use WriteControl,
// which is safe alongside it.
type Connection struct {
	id             string
	conn           *websocket.Conn
	opts           connectionOptions
	writeCh        chan []byte
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
	closedByClient atomic.Bool
	readDone       chan struct{}
	logger         *slog.Logger
}

func newConnection(conn *websocket.Conn, opts connectionOptions, logger *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		opts:     opts,
		writeCh:  make(chan []byte, opts.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
		readDone: make(chan struct{}),
	}
	c.logger = logger.With(slog.String("conn_id", c.id))

	go c.writeLoop()
	go c.pingLoop()

	return c
}

// ID identifies the connection in logs.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("socket write failed", slog.String("error", err.Error()))
				c.shutdown()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// pingLoop sends a control ping for the read deadline and a PING envelope
// for the server's application-level keepalive.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", slog.String("error", err.Error()))
				c.shutdown()
				return
			}
			if err := c.WriteJSON(Outbound{Type: types.EnvelopePing}); err != nil {
				c.logger.Debug("keepalive envelope not queued", slog.String("error", err.Error()))
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop blocks until the socket fails or is closed, handing every text
// frame to onFrame. It returns the read error.
func (c *Connection) readLoop(onFrame func([]byte)) error {
	extend := func() {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		if kind == websocket.TextMessage {
			onFrame(data)
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close sends a normal close frame and tears the socket down. The read
// loop then ends without reporting an unexpected close.
func (c *Connection) Close() error {
	c.closedByClient.Store(true)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.shutdown()
}

// ClosedByClient reports whether Close was called.
func (c *Connection) ClosedByClient() bool {
	return c.closedByClient.Load()
}

func (c *Connection) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
