package hub

import (
	"log/slog"
	"strconv"

	"golang.org/x/text/message"

	"chatclient/internal/events"
	"chatclient/internal/i18n"
	"chatclient/pkg/types"
)

// Roster is the part of the roster the dispatcher updates.
type Roster interface {
	ApplyPresenceEvent(userID int64, username string, online bool)
	EnsureKnown(userID int64, username string, online bool)
	Entry(userID int64) (types.RosterEntry, bool)
}

// Conversations is the part of the router the dispatcher feeds.
type Conversations interface {
	ApplyInbound(msg types.Message) bool
	ApplyNotice(text string)
}

// Dispatcher implements events.Handler. Presence goes to the roster,
// content to the router; acks, errors and unknown frames are diagnostics.
type Dispatcher struct {
	roster  Roster
	convs   Conversations
	printer *message.Printer
	logger  *slog.Logger
}

var _ events.Handler = (*Dispatcher)(nil)

// NewDispatcher wires the handlers. A nil printer uses the default locale.
func NewDispatcher(roster Roster, convs Conversations, printer *message.Printer, logger *slog.Logger) *Dispatcher {
	if printer == nil {
		printer = i18n.Printer(i18n.DefaultLocale)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		roster:  roster,
		convs:   convs,
		printer: printer,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

func (d *Dispatcher) HandleUserOnline(e events.UserOnline) {
	d.roster.ApplyPresenceEvent(e.UserID, e.Username, true)
	d.convs.ApplyNotice(d.printer.Sprintf(i18n.NoticeUserOnline, d.displayName(e.UserID, e.Username)))
}

func (d *Dispatcher) HandleUserOffline(e events.UserOffline) {
	d.roster.ApplyPresenceEvent(e.UserID, e.Username, false)
	d.convs.ApplyNotice(d.printer.Sprintf(i18n.NoticeUserOffline, d.displayName(e.UserID, e.Username)))
}

// displayName falls back to the roster, then the id, when the push
// carried no username.
func (d *Dispatcher) displayName(userID int64, username string) string {
	if username != "" {
		return username
	}
	if entry, ok := d.roster.Entry(userID); ok && entry.Username != "" {
		return entry.Username
	}
	return "#" + strconv.FormatInt(userID, 10)
}

func (d *Dispatcher) HandlePrivateMessage(e events.PrivateMessage) {
	// A message from an unknown sender adds them to the roster, offline
	// unless a presence push says otherwise.
	d.roster.EnsureKnown(e.Message.SenderID, e.Message.SenderUsername, false)
	if !d.convs.ApplyInbound(e.Message) {
		d.logger.Debug("private message outside the active conversation",
			slog.Int64("message_id", e.Message.ID),
			slog.Int64("sender_id", e.Message.SenderID),
			slog.Bool("backlog", e.Backlog))
	}
}

func (d *Dispatcher) HandleGroupMessage(e events.GroupMessage) {
	if !d.convs.ApplyInbound(e.Message) {
		d.logger.Debug("group message outside the active conversation",
			slog.Int64("message_id", e.Message.ID),
			slog.Int64("group_id", e.Message.GroupID))
	}
}

func (d *Dispatcher) HandleGroupNotification(e events.GroupNotification) {
	d.convs.ApplyNotice(e.Text)
}

func (d *Dispatcher) HandleMessageAck(e events.MessageAck) {
	d.logger.Debug("message acknowledged",
		slog.String("scope", string(e.Scope)),
		slog.Int64("message_id", e.MessageID),
		slog.Int64("target_id", e.TargetID))
}

func (d *Dispatcher) HandleServerError(e events.ServerError) {
	d.logger.Warn("server reported an error", slog.String("text", e.Text))
}

func (d *Dispatcher) HandlePong(events.Pong) {
	d.logger.Debug("keepalive acknowledged")
}

func (d *Dispatcher) HandleOfflineBacklog(e events.OfflineBacklog) {
	d.convs.ApplyNotice(d.printer.Sprintf(i18n.NoticeOfflineBacklog, e.Count))
}

func (d *Dispatcher) HandleUnknown(e events.Unknown) {
	d.logger.Debug("ignoring unknown envelope", slog.String("type", e.Type))
}
