// Package router owns the active conversation. It turns composed text into
// outbound envelopes and decides which inbound messages reach the transcript.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"chatclient/internal/transcript"
	"chatclient/internal/websocket"
	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

// Sender delivers an outbound envelope. The transport implements it.
type Sender interface {
	Send(msg websocket.Outbound) error
}

// Options configures a Router.
type Options struct {
	// SendRate and SendBurst throttle ComposeOutbound. A zero rate disables
	// the throttle.
	SendRate  float64
	SendBurst int
	Logger    *slog.Logger
}

// Router is the single writer of the transcript.
// ARCHITECTURAL DISCOVERY: the active conversation and the transcript epoch
// change together under mu, so an inbound message is checked against the
// conversation that owns the epoch it is appended with.
type Router struct {
	history    interfaces.HistoryService
	tokens     interfaces.TokenSource
	sender     Sender
	transcript *transcript.Transcript
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu             sync.RWMutex
	active         types.Conversation
	hasActive      bool
	epoch          transcript.Epoch
	members        []types.User
	membersVisible bool
}

// NewRouter creates a router with no active conversation.
func NewRouter(history interfaces.HistoryService, tokens interfaces.TokenSource, sender Sender, tr *transcript.Transcript, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}
	return &Router{
		history:    history,
		tokens:     tokens,
		sender:     sender,
		transcript: tr,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "router")),
	}
}

// SetActive switches to conv, clears the transcript and loads history. For
// a group the member list is shown and loaded as well. History or members
// that arrive after another switch are discarded. Load failures are logged;
// only an invalid conversation is returned as an error.
func (r *Router) SetActive(ctx context.Context, conv types.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = conv
	r.hasActive = true
	r.epoch = r.transcript.Reset(conv)
	r.members = nil
	r.membersVisible = conv.Kind == types.ScopeGroup
	epoch := r.epoch
	r.mu.Unlock()

	r.loadHistory(ctx, conv, epoch)
	if conv.Kind == types.ScopeGroup {
		if err := r.ReloadMembers(ctx); err != nil {
			r.logger.Warn("loading group members failed",
				slog.Int64("group_id", conv.PeerID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Router) loadHistory(ctx context.Context, conv types.Conversation, epoch transcript.Epoch) {
	token := r.tokens.Token()
	if token == "" {
		return
	}

	var (
		history []types.Message
		err     error
	)
	switch conv.Kind {
	case types.ScopeGroup:
		history, err = r.history.GroupHistory(ctx, token, conv.PeerID)
	default:
		history, err = r.history.PrivateHistory(ctx, token, conv.PeerID)
	}
	if err != nil {
		r.logger.Warn("loading history failed",
			slog.String("scope", string(conv.Kind)),
			slog.Int64("peer_id", conv.PeerID),
			slog.String("error", err.Error()))
		return
	}

	// Server order is newest first.
	added := 0
	for i := len(history) - 1; i >= 0; i-- {
		if r.transcript.Append(epoch, history[i]) {
			added++
		}
	}
	if r.transcript.Epoch() != epoch {
		r.logger.Debug("discarded history for a stale conversation", slog.Int64("peer_id", conv.PeerID))
		return
	}
	r.logger.Debug("history loaded", slog.Int64("peer_id", conv.PeerID), slog.Int("messages", added))
}

// ReloadMembers refreshes the member list of the active group. It is a
// no-op for a direct conversation.
func (r *Router) ReloadMembers(ctx context.Context) error {
	r.mu.RLock()
	conv, ok := r.active, r.hasActive
	r.mu.RUnlock()
	if !ok || conv.Kind != types.ScopeGroup {
		return nil
	}

	token := r.tokens.Token()
	if token == "" {
		return nil
	}
	members, err := r.history.GroupMembers(ctx, token, conv.PeerID)
	if err != nil {
		return fmt.Errorf("loading members of group %d: %w", conv.PeerID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive || !r.active.Same(conv) {
		return nil
	}
	r.members = members
	return nil
}

// ComposeOutbound sends content to the active conversation. Empty content
// and a missing conversation are rejected before the sender is touched.
func (r *Router) ComposeOutbound(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}

	r.mu.RLock()
	conv, ok := r.active, r.hasActive
	r.mu.RUnlock()
	if !ok {
		return ErrNoActiveConversation
	}
	if !types.IsWithinContentLimit(content) {
		return types.ErrContentTooLarge
	}
	if !r.limiter.Allow() {
		return ErrRateLimited
	}

	var msg websocket.Outbound
	if conv.Kind == types.ScopeGroup {
		msg = websocket.NewGroup(conv.PeerID, content)
	} else {
		msg = websocket.NewDirect(conv.PeerID, content)
	}
	if err := r.sender.Send(msg); err != nil {
		return fmt.Errorf("sending to %s %d: %w", conv.Kind, conv.PeerID, err)
	}
	return nil
}

// ApplyInbound appends msg when it belongs to the active conversation and
// reports whether it did.
func (r *Router) ApplyInbound(msg types.Message) bool {
	r.mu.RLock()
	conv, ok, epoch := r.active, r.hasActive, r.epoch
	r.mu.RUnlock()
	if !ok || !r.belongs(conv, msg) {
		return false
	}
	return r.transcript.Append(epoch, msg)
}

func (r *Router) belongs(conv types.Conversation, msg types.Message) bool {
	switch conv.Kind {
	case types.ScopeDirect:
		if msg.Scope != types.ScopeDirect {
			return false
		}
		if msg.SenderID == conv.PeerID {
			return true
		}
		self := r.tokens.Identity().ID
		return self != 0 && msg.SenderID == self && msg.ReceiverID == conv.PeerID
	case types.ScopeGroup:
		return msg.Scope == types.ScopeGroup && msg.GroupID == conv.PeerID
	default:
		return false
	}
}

// ApplyNotice appends a system notice regardless of the conversation.
func (r *Router) ApplyNotice(text string) {
	r.transcript.Notice(text)
}

// Active returns the active conversation.
func (r *Router) Active() (types.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.hasActive
}

// Members returns the member list of the active group and whether it is
// shown at all.
func (r *Router) Members() ([]types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.User, len(r.members))
	copy(out, r.members)
	return out, r.membersVisible
}

// Clear drops the active conversation. Used on logout.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = types.Conversation{}
	r.hasActive = false
	r.members = nil
	r.membersVisible = false
	r.epoch = r.transcript.Reset(types.Conversation{})
}
