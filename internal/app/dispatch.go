package app

import (
	"sync/atomic"

	"chatclient/internal/events"
	"chatclient/internal/hub"
)

// lateDispatcher lets the hub exist before the router it dispatches to.
type lateDispatcher struct {
	target atomic.Pointer[hub.Dispatcher]
}

var _ events.Handler = (*lateDispatcher)(nil)

func (l *lateDispatcher) bind(d *hub.Dispatcher) { l.target.Store(d) }

func (l *lateDispatcher) HandleUserOnline(e events.UserOnline)   { l.target.Load().HandleUserOnline(e) }
func (l *lateDispatcher) HandleUserOffline(e events.UserOffline) { l.target.Load().HandleUserOffline(e) }
func (l *lateDispatcher) HandlePrivateMessage(e events.PrivateMessage) {
	l.target.Load().HandlePrivateMessage(e)
}
func (l *lateDispatcher) HandleGroupMessage(e events.GroupMessage) {
	l.target.Load().HandleGroupMessage(e)
}
func (l *lateDispatcher) HandleGroupNotification(e events.GroupNotification) {
	l.target.Load().HandleGroupNotification(e)
}
func (l *lateDispatcher) HandleMessageAck(e events.MessageAck)   { l.target.Load().HandleMessageAck(e) }
func (l *lateDispatcher) HandleServerError(e events.ServerError) { l.target.Load().HandleServerError(e) }
func (l *lateDispatcher) HandlePong(e events.Pong)               { l.target.Load().HandlePong(e) }
func (l *lateDispatcher) HandleOfflineBacklog(e events.OfflineBacklog) {
	l.target.Load().HandleOfflineBacklog(e)
}
func (l *lateDispatcher) HandleUnknown(e events.Unknown) { l.target.Load().HandleUnknown(e) }
