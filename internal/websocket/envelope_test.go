package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatclient/internal/events"
	"chatclient/pkg/types"
)

func TestDecode_Presence(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"USER_ONLINE","senderId":42,"senderUsername":"bob"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	online, ok := ev.(events.UserOnline)
	if !ok {
		t.Fatalf("got %T, want UserOnline", ev)
	}
	if online.UserID != 42 || online.Username != "bob" {
		t.Errorf("unexpected event %+v", online)
	}

	ev, err = Decode([]byte(`{"type":"USER_OFFLINE","senderId":42,"senderUsername":"bob"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := ev.(events.UserOffline); !ok {
		t.Fatalf("got %T, want UserOffline", ev)
	}
}

func TestDecode_PrivateMessage(t *testing.T) {
	frame := `{"type":"PRIVATE_MESSAGE","messageId":9,"senderId":7,"senderUsername":"carol",
		"receiverId":1,"content":"hi","timestamp":"2024-05-01T10:00:00"}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pm, ok := ev.(events.PrivateMessage)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	msg := pm.Message
	if msg.ID != 9 || msg.SenderID != 7 || msg.ReceiverID != 1 || msg.Content != "hi" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Scope != types.ScopeDirect {
		t.Errorf("scope = %s", msg.Scope)
	}
	if !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, want)
	}
	if pm.Backlog {
		t.Error("live message must not be flagged as backlog")
	}
}

func TestDecode_UnparseableTimestampKeepsFrame(t *testing.T) {
	frame := `{"type":"PRIVATE_MESSAGE","messageId":9,"senderId":7,"senderUsername":"carol",
		"receiverId":1,"content":"hi","timestamp":"last tuesday"}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pm, ok := ev.(events.PrivateMessage)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	if pm.Message.Content != "hi" || !pm.Message.Timestamp.IsZero() {
		t.Errorf("unexpected message %+v", pm.Message)
	}
}

func TestDecode_GroupMessageAndAcks(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"GROUP_MESSAGE","senderId":7,"groupId":3,"groupName":"ops","content":"yo"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gm, ok := ev.(events.GroupMessage)
	if !ok || gm.Message.GroupID != 3 || gm.Message.Scope != types.ScopeGroup {
		t.Fatalf("unexpected %#v", ev)
	}

	ev, _ = Decode([]byte(`{"type":"GROUP_MESSAGE_ACK","messageId":11,"groupId":3}`))
	ack, ok := ev.(events.MessageAck)
	if !ok || ack.Scope != types.ScopeGroup || ack.TargetID != 3 || ack.MessageID != 11 {
		t.Fatalf("unexpected %#v", ev)
	}

	ev, _ = Decode([]byte(`{"type":"PRIVATE_MESSAGE_ACK","messageId":12,"receiverId":7}`))
	ack, ok = ev.(events.MessageAck)
	if !ok || ack.Scope != types.ScopeDirect || ack.TargetID != 7 {
		t.Fatalf("unexpected %#v", ev)
	}
}

func TestDecode_NotificationErrorPong(t *testing.T) {
	ev, _ := Decode([]byte(`{"type":"GROUP_NOTIFICATION","groupId":3,"content":"bob 加入了群组"}`))
	if n, ok := ev.(events.GroupNotification); !ok || n.Text != "bob 加入了群组" {
		t.Errorf("unexpected %#v", ev)
	}

	ev, _ = Decode([]byte(`{"type":"ERROR","content":"您不是该群组成员"}`))
	if e, ok := ev.(events.ServerError); !ok || e.Text != "您不是该群组成员" {
		t.Errorf("unexpected %#v", ev)
	}

	ev, _ = Decode([]byte(`{"type":"PONG"}`))
	if _, ok := ev.(events.Pong); !ok {
		t.Errorf("unexpected %#v", ev)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	raw := []byte(`{"type":"TYPING","senderId":7}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("unknown type should not fail: %v", err)
	}
	u, ok := ev.(events.Unknown)
	if !ok || u.Type != "TYPING" || string(u.Raw) != string(raw) {
		t.Errorf("unexpected %#v", ev)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
	if _, err := Decode([]byte(`{"type":"USER_ONLINE"}`)); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
	if _, err := Decode([]byte(`{"type":"GROUP_MESSAGE","senderId":1}`)); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestOutbound_Encoding(t *testing.T) {
	data, _ := json.Marshal(NewDirect(7, "hello"))
	if string(data) != `{"type":"PRIVATE_MESSAGE","content":"hello","receiverId":7}` {
		t.Errorf("direct frame = %s", data)
	}

	data, _ = json.Marshal(NewGroup(3, "hey"))
	if string(data) != `{"type":"GROUP_MESSAGE","content":"hey","groupId":3}` {
		t.Errorf("group frame = %s", data)
	}
}
