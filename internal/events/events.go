// Package events defines the typed events that flow from the transport and
// the offline poller into the hub. Event is sealed: only this package can
// add variants, and every Handler must implement all of them.
package events

import (
	"time"

	"chatclient/pkg/types"
)

// Event is one inbound occurrence. Accept dispatches to the matching
// Handler method.
type Event interface {
	Accept(h Handler)
	Kind() string
	sealed()
}

// Handler receives every event variant. A new variant breaks the build of
// every handler until it is handled.
type Handler interface {
	HandleUserOnline(UserOnline)
	HandleUserOffline(UserOffline)
	HandlePrivateMessage(PrivateMessage)
	HandleGroupMessage(GroupMessage)
	HandleGroupNotification(GroupNotification)
	HandleMessageAck(MessageAck)
	HandleServerError(ServerError)
	HandlePong(Pong)
	HandleOfflineBacklog(OfflineBacklog)
	HandleUnknown(Unknown)
}

// Sink accepts events for serialized processing.
type Sink interface {
	Publish(Event) error
}

// UserOnline is a presence push for a counterpart coming online.
type UserOnline struct {
	UserID   int64
	Username string
}

// UserOffline is a presence push for a counterpart going offline.
type UserOffline struct {
	UserID   int64
	Username string
}

// PrivateMessage carries a DIRECT message. Backlog marks messages that came
// from the offline poll rather than the live socket.
type PrivateMessage struct {
	Message types.Message
	Backlog bool
}

// GroupMessage carries a GROUP message.
type GroupMessage struct {
	Message types.Message
}

// GroupNotification is a server-side group notice shown verbatim.
type GroupNotification struct {
	GroupID int64
	Text    string
	At      time.Time
}

// MessageAck confirms a message this client sent.
type MessageAck struct {
	Scope     types.Scope
	MessageID int64
	TargetID  int64
	At        time.Time
}

// ServerError is an ERROR envelope.
type ServerError struct {
	Text string
}

// Pong answers a keepalive.
type Pong struct{}

// OfflineBacklog announces how many new backlog messages follow.
type OfflineBacklog struct {
	Count int
}

// Unknown is any envelope type this client does not understand.
type Unknown struct {
	Type string
	Raw  []byte
}

func (e UserOnline) Accept(h Handler)        { h.HandleUserOnline(e) }
func (e UserOffline) Accept(h Handler)       { h.HandleUserOffline(e) }
func (e PrivateMessage) Accept(h Handler)    { h.HandlePrivateMessage(e) }
func (e GroupMessage) Accept(h Handler)      { h.HandleGroupMessage(e) }
func (e GroupNotification) Accept(h Handler) { h.HandleGroupNotification(e) }
func (e MessageAck) Accept(h Handler)        { h.HandleMessageAck(e) }
func (e ServerError) Accept(h Handler)       { h.HandleServerError(e) }
func (e Pong) Accept(h Handler)              { h.HandlePong(e) }
func (e OfflineBacklog) Accept(h Handler)    { h.HandleOfflineBacklog(e) }
func (e Unknown) Accept(h Handler)           { h.HandleUnknown(e) }

func (UserOnline) Kind() string        { return types.EnvelopeUserOnline }
func (UserOffline) Kind() string       { return types.EnvelopeUserOffline }
func (PrivateMessage) Kind() string    { return types.EnvelopePrivateMessage }
func (GroupMessage) Kind() string      { return types.EnvelopeGroupMessage }
func (GroupNotification) Kind() string { return types.EnvelopeGroupNotification }
func (e MessageAck) Kind() string {
	if e.Scope == types.ScopeGroup {
		return types.EnvelopeGroupMessageAck
	}
	return types.EnvelopePrivateMessageAck
}
func (ServerError) Kind() string    { return types.EnvelopeError }
func (Pong) Kind() string           { return types.EnvelopePong }
func (OfflineBacklog) Kind() string { return "OFFLINE_BACKLOG" }
func (Unknown) Kind() string        { return "UNKNOWN" }

func (UserOnline) sealed()        {}
func (UserOffline) sealed()       {}
func (PrivateMessage) sealed()    {}
func (GroupMessage) sealed()      {}
func (GroupNotification) sealed() {}
func (MessageAck) sealed()        {}
func (ServerError) sealed()       {}
func (Pong) sealed()              {}
func (OfflineBacklog) sealed()    {}
func (Unknown) sealed()           {}
