// Package hub is the client's single event loop. Transport pushes, offline
// backlog and queued tasks share one FIFO queue and are handled one at a
// time on one goroutine, so roster and transcript handlers never run
// concurrently.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatclient/internal/events"
)

const queueBuffer = 1000

// item is either an event or a task. Events carry the generation they were
// published under.
type item struct {
	event      events.Event
	generation uint64
	task       func()
}

// Hub implements events.Sink.
// ARCHITECTURAL DISCOVERY: producers never block on the loop; a full
// buffer is reported to the producer, which logs and drops.
type Hub struct {
	queue           chan item
	shutdownChannel chan struct{}
	done            chan struct{}

	handler    events.Handler
	logger     *slog.Logger
	generation atomic.Uint64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a stopped hub delivering events to handler.
func NewHub(handler events.Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queue:   make(chan item, queueBuffer),
		handler: handler,
		logger:  logger.With(slog.String("component", "hub")),
	}
}

// Start launches the loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	go h.run(ctx, h.shutdownChannel, h.done)
	h.logger.Debug("hub started")
	return nil
}

// Stop ends the loop and waits for the item in progress. Queued items
// are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
	<-done
	return nil
}

// Advance starts a new generation. Events published before the call and
// still queued are dropped instead of dispatched.
func (h *Hub) Advance() {
	g := h.generation.Add(1)
	h.logger.Debug("hub generation advanced", slog.Uint64("generation", g))
}

// Publish queues e for the loop.
func (h *Hub) Publish(e events.Event) error {
	if err := h.enqueue(item{event: e, generation: h.generation.Load()}); err != nil {
		if errors.Is(err, errQueueFull) {
			return ErrEventChannelFull
		}
		return err
	}
	return nil
}

// Submit queues fn to run on the loop after every item already queued.
// Tasks are never dropped by Advance.
func (h *Hub) Submit(fn func()) error {
	if err := h.enqueue(item{task: fn}); err != nil {
		if errors.Is(err, errQueueFull) {
			return ErrTaskChannelFull
		}
		return err
	}
	return nil
}

// Call runs fn on the loop and waits for it to finish, so every event
// published before Call has been handled or dropped when it returns.
func (h *Hub) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) enqueue(it item) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.queue <- it:
		return nil
	default:
		return errQueueFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	defer h.logger.Debug("hub stopped")

	for {
		select {
		case it := <-h.queue:
			h.handle(it)
		case <-shutdown:
			return
		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handle(it item) {
	if it.task != nil {
		h.runTask(it.task)
		return
	}
	if it.generation != h.generation.Load() {
		h.logger.Debug("dropping stale event",
			slog.String("kind", it.event.Kind()),
			slog.Uint64("generation", it.generation))
		return
	}
	h.dispatch(it.event)
}

// dispatch keeps one bad handler from killing the loop.
func (h *Hub) dispatch(e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked", slog.String("kind", e.Kind()), slog.Any("panic", r))
		}
	}()
	e.Accept(h.handler)
}

func (h *Hub) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub task panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
