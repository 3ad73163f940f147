package integration

import (
	"testing"
	"time"

	"chatclient/internal/app"
	"chatclient/internal/testserver"
	"chatclient/pkg/types"
)

func newServer(t *testing.T) *testserver.Server {
	t.Helper()
	srv := testserver.New(t)
	srv.AddUser(1, "al", "pw", false)
	srv.AddUser(7, "carol", "pw", false)
	srv.AddUser(8, "dave", "pw", false)
	srv.AddGroup(types.Group{ID: 3, Name: "ops", OwnerID: 1}, 1, 7, 8)
	return srv
}

func TestClients_PresenceNotices(t *testing.T) {
	srv := newServer(t)
	al, _ := StartClient(t, srv, "al", "pw")
	if item, _ := RosterItem(al.View(), 7); item.Online {
		t.Fatal("carol should start offline")
	}

	carol, _ := StartClient(t, srv, "carol", "pw")
	Eventually(t, "carol online notice", func() bool {
		_, ok := FindLine(al.View(), "carol 上线了")
		return ok
	})
	if item, _ := RosterItem(al.View(), 7); !item.Online || item.Label != "carol (在线)" {
		t.Errorf("carol roster item = %+v", item)
	}

	carol.Logout()
	Eventually(t, "carol offline notice", func() bool {
		_, ok := FindLine(al.View(), "carol 下线了")
		return ok
	})
	item, known := RosterItem(al.View(), 7)
	if !known || item.Online {
		t.Errorf("carol should stay listed as offline, got %+v", item)
	}
}

func TestClients_DirectChat(t *testing.T) {
	srv := newServer(t)
	al, _ := StartClient(t, srv, "al", "pw")
	carol, _ := StartClient(t, srv, "carol", "pw")

	if err := al.SelectDirect(7); err != nil {
		t.Fatalf("al SelectDirect: %v", err)
	}
	if err := carol.SelectDirect(1); err != nil {
		t.Fatalf("carol SelectDirect: %v", err)
	}

	if err := al.Send("<b>hi</b> carol"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	Eventually(t, "carol to see the message", func() bool {
		_, ok := FindLine(carol.View(), "hi carol")
		return ok
	})
	line, _ := FindLine(carol.View(), "hi carol")
	if line.Author != "al" || line.Own {
		t.Errorf("line = %+v", line)
	}

	// Reopening the chat reloads history, where al sees the message as their own.
	if err := al.SelectDirect(7); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	own, ok := FindLine(al.View(), "hi carol")
	if !ok || !own.Own || own.Author != "我" {
		t.Errorf("own history line = %+v", own)
	}
}

func TestClients_MessageOutsideActiveChatIsNotShown(t *testing.T) {
	srv := newServer(t)
	al, _ := StartClient(t, srv, "al", "pw")
	carol, _ := StartClient(t, srv, "carol", "pw")
	dave, _ := StartClient(t, srv, "dave", "pw")

	if err := carol.SelectDirect(8); err != nil {
		t.Fatalf("SelectDirect: %v", err)
	}
	if err := al.SelectDirect(7); err != nil {
		t.Fatalf("SelectDirect: %v", err)
	}
	if err := dave.SelectDirect(7); err != nil {
		t.Fatalf("SelectDirect: %v", err)
	}

	if err := al.Send("for carol"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := dave.Send("from dave"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	Eventually(t, "dave's message", func() bool {
		_, ok := FindLine(carol.View(), "from dave")
		return ok
	})
	time.Sleep(100 * time.Millisecond)
	if _, ok := FindLine(carol.View(), "for carol"); ok {
		t.Error("a message from al must not appear in the chat with dave")
	}
}

func TestClients_GroupFanOut(t *testing.T) {
	srv := newServer(t)
	al, _ := StartClient(t, srv, "al", "pw")
	carol, _ := StartClient(t, srv, "carol", "pw")
	dave, _ := StartClient(t, srv, "dave", "pw")

	for _, c := range []*app.Application{al, carol, dave} {
		if err := c.SelectGroup(3); err != nil {
			t.Fatalf("SelectGroup: %v", err)
		}
	}

	if err := carol.Send("standup in 5"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	Eventually(t, "al to see the group message", func() bool {
		_, ok := FindLine(al.View(), "standup in 5")
		return ok
	})
	Eventually(t, "dave to see the group message", func() bool {
		_, ok := FindLine(dave.View(), "standup in 5")
		return ok
	})

	v := al.View()
	if v.Title != "群组: ops" || len(v.Members) != 3 {
		t.Errorf("al view = %+v", v)
	}
	kickable := 0
	for _, m := range v.Members {
		if m.Kickable {
			kickable++
		}
	}
	if kickable != 2 {
		t.Errorf("the owner can kick both other members, got %d", kickable)
	}
	for _, m := range carol.View().Members {
		if m.Kickable {
			t.Errorf("carol is not the owner but can kick %+v", m)
		}
	}
}

func TestClients_OfflineDelivery(t *testing.T) {
	srv := newServer(t)
	al, _ := StartClient(t, srv, "al", "pw")
	if err := al.SelectDirect(7); err != nil {
		t.Fatalf("SelectDirect: %v", err)
	}
	if err := al.Send("are you there"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	Eventually(t, "server to store the message", func() bool {
		for _, e := range srv.Received(1) {
			if e.Type == types.EnvelopePrivateMessage {
				return true
			}
		}
		return false
	})
	time.Sleep(50 * time.Millisecond)

	carol, _ := StartClient(t, srv, "carol", "pw")
	Eventually(t, "offline backlog notice", func() bool {
		_, ok := FindLine(carol.View(), "您有 1 条离线消息")
		return ok
	})

	if err := carol.SelectDirect(1); err != nil {
		t.Fatalf("SelectDirect: %v", err)
	}
	if _, ok := FindLine(carol.View(), "are you there"); !ok {
		t.Errorf("history should hold the offline message: %+v", carol.View().Lines)
	}
}
