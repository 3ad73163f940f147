package websocket

import (
	"encoding/json"
	"fmt"

	"chatclient/internal/events"
	"chatclient/pkg/types"
)

// Outbound is a frame this client writes. Exactly one of ReceiverID and
// GroupID is set for chat messages, neither for keepalives.
type Outbound struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	ReceiverID int64  `json:"receiverId,omitempty"`
	GroupID    int64  `json:"groupId,omitempty"`
}

// NewDirect builds a PRIVATE_MESSAGE frame.
func NewDirect(receiverID int64, content string) Outbound {
	return Outbound{Type: types.EnvelopePrivateMessage, Content: content, ReceiverID: receiverID}
}

// NewGroup builds a GROUP_MESSAGE frame.
func NewGroup(groupID int64, content string) Outbound {
	return Outbound{Type: types.EnvelopeGroupMessage, Content: content, GroupID: groupID}
}

// inbound mirrors the server WebSocketMessage. Pointer ids distinguish
// "absent" from zero.
type inbound struct {
	Type           string           `json:"type"`
	SenderID       *int64           `json:"senderId"`
	SenderUsername string           `json:"senderUsername"`
	SenderNickname string           `json:"senderNickname"`
	ReceiverID     *int64           `json:"receiverId"`
	GroupID        *int64           `json:"groupId"`
	GroupName      string           `json:"groupName"`
	Content        string           `json:"content"`
	MessageID      *int64           `json:"messageId"`
	Timestamp      *types.Timestamp `json:"timestamp"`
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// Decode turns one text frame into an event. Unparseable JSON is an
// error, an unrecognised type is an Unknown event.
func Decode(data []byte) (events.Event, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch in.Type {
	case types.EnvelopeUserOnline, types.EnvelopeUserOffline:
		if in.SenderID == nil {
			return nil, fmt.Errorf("%w: %s without senderId", ErrMissingField, in.Type)
		}
		if in.Type == types.EnvelopeUserOnline {
			return events.UserOnline{UserID: *in.SenderID, Username: in.SenderUsername}, nil
		}
		return events.UserOffline{UserID: *in.SenderID, Username: in.SenderUsername}, nil

	case types.EnvelopePrivateMessage:
		if in.SenderID == nil {
			return nil, fmt.Errorf("%w: PRIVATE_MESSAGE without senderId", ErrMissingField)
		}
		return events.PrivateMessage{Message: in.message(types.ScopeDirect)}, nil

	case types.EnvelopeGroupMessage:
		if in.GroupID == nil {
			return nil, fmt.Errorf("%w: GROUP_MESSAGE without groupId", ErrMissingField)
		}
		return events.GroupMessage{Message: in.message(types.ScopeGroup)}, nil

	case types.EnvelopeGroupNotification, types.EnvelopeSystem:
		return events.GroupNotification{GroupID: deref(in.GroupID), Text: in.Content, At: in.Timestamp.Value()}, nil

	case types.EnvelopePrivateMessageAck:
		return events.MessageAck{Scope: types.ScopeDirect, MessageID: deref(in.MessageID),
			TargetID: deref(in.ReceiverID), At: in.Timestamp.Value()}, nil

	case types.EnvelopeGroupMessageAck:
		return events.MessageAck{Scope: types.ScopeGroup, MessageID: deref(in.MessageID),
			TargetID: deref(in.GroupID), At: in.Timestamp.Value()}, nil

	case types.EnvelopeError:
		return events.ServerError{Text: in.Content}, nil

	case types.EnvelopePong:
		return events.Pong{}, nil
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return events.Unknown{Type: in.Type, Raw: raw}, nil
}

func (in inbound) message(scope types.Scope) types.Message {
	return types.Message{
		ID:             deref(in.MessageID),
		SenderID:       deref(in.SenderID),
		SenderUsername: in.SenderUsername,
		ReceiverID:     deref(in.ReceiverID),
		GroupID:        deref(in.GroupID),
		GroupName:      in.GroupName,
		Content:        in.Content,
		Timestamp:      in.Timestamp.Value(),
		Scope:          scope,
	}
}
