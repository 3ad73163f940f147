// Package poller pulls messages queued while the user had no live
// connection and feeds them into the same event path as live pushes.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatclient/internal/events"
	"chatclient/internal/metrics"
	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

var ErrAlreadyRunning = errors.New("offline poller already running")

// Poller polls the offline backlog on a ticker.
type Poller struct {
	source   interfaces.OfflineSource
	tokens   interfaces.TokenSource
	sink     events.Sink
	interval time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// pollMu serializes polls so a manual check and a tick never deliver
	// the same message twice.
	pollMu sync.Mutex
	seen   map[int64]struct{}
}

// NewPoller creates a stopped poller. A non-positive interval defaults to
// 30 seconds.
func NewPoller(source interfaces.OfflineSource, tokens interfaces.TokenSource, sink events.Sink, interval time.Duration, logger *slog.Logger, recorder metrics.Recorder) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Poller{
		source:   source,
		tokens:   tokens,
		sink:     sink,
		interval: interval,
		logger:   logger.With(slog.String("component", "poller")),
		metrics:  recorder,
		seen:     make(map[int64]struct{}),
	}
}

// Start polls once immediately and then on every tick until Stop or ctx
// is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(ctx, done)
	p.logger.Info("offline poller started", slog.Duration("interval", p.interval))
	return nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("offline poll failed", slog.String("error", err.Error()))
	}
}

// Stop halts the ticker, waits for any in-flight poll, manual ones
// included, and forgets the delivered ids.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.pollMu.Lock()
	p.seen = make(map[int64]struct{})
	p.pollMu.Unlock()
	if cancel != nil {
		p.logger.Info("offline poller stopped")
	}
}

// Running reports whether the ticker is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Poll fetches the backlog once and publishes what has not been delivered
// in this session: one OfflineBacklog event followed by one PrivateMessage
// per message. It returns the number of messages published.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	token := p.tokens.Token()
	if token == "" {
		return 0, nil
	}

	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	backlog, err := p.source.OfflineMessages(ctx, token)
	if err != nil {
		p.metrics.RecordOfflinePoll(metrics.ResultError)
		return 0, err
	}
	p.metrics.RecordOfflinePoll(metrics.ResultOK)
	if p.tokens.Token() != token {
		p.logger.Debug("session changed during poll, discarding backlog", slog.Int("count", len(backlog)))
		return 0, nil
	}

	fresh := make([]types.Message, 0, len(backlog))
	for _, m := range backlog {
		if m.ID != 0 {
			if _, dup := p.seen[m.ID]; dup {
				continue
			}
			p.seen[m.ID] = struct{}{}
		}
		m.Scope = types.ScopeDirect
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := p.sink.Publish(events.OfflineBacklog{Count: len(fresh)}); err != nil {
		return 0, err
	}
	published := 0
	for _, m := range fresh {
		if err := p.sink.Publish(events.PrivateMessage{Message: m, Backlog: true}); err != nil {
			p.logger.Warn("dropping offline message",
				slog.Int64("message_id", m.ID),
				slog.String("error", err.Error()))
			continue
		}
		published++
	}
	p.metrics.RecordOfflineDelivered(published)
	p.logger.Info("offline messages delivered", slog.Int("count", published))
	return published, nil
}
