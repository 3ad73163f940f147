// Package integration runs several clients against one fake chat server.
package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatclient/internal/app"
	"chatclient/internal/config"
	"chatclient/internal/render"
	"chatclient/internal/testserver"
)

// Alerts records what a client would have shown the user.
type Alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *Alerts) Alert(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

// All returns the alerts seen so far.
func (a *Alerts) All() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

// ClientConfig points a client at srv with its own token database.
func ClientConfig(t testing.TB, srv *testserver.Server) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = srv.URL
	cfg.Server.RequestsPerSec = 1000
	cfg.Server.RequestBurst = 1000
	cfg.Transport.SendRate = 1000
	cfg.Transport.SendBurst = 1000
	cfg.Transport.PingInterval = time.Second
	cfg.Transport.ReadTimeout = 5 * time.Second
	cfg.Poller.Interval = time.Hour
	cfg.Store.Path = filepath.Join(t.TempDir(), "token.db")
	return cfg
}

// StartClient starts a client and logs it in. The client is stopped when
// the test ends.
func StartClient(t testing.TB, srv *testserver.Server, username, password string) (*app.Application, *Alerts) {
	t.Helper()
	alerts := &Alerts{}
	client, err := app.NewApplication(ClientConfig(t, srv), app.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: alerts,
	})
	if err != nil {
		t.Fatalf("NewApplication(%s): %v", username, err)
	}
	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s): %v", username, err)
	}
	t.Cleanup(func() {
		if err := client.Stop(context.Background()); err != nil {
			t.Logf("stopping %s: %v", username, err)
		}
	})
	if err := client.Login(username, password); err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
	return client, alerts
}

// Eventually polls cond until it holds or three seconds pass.
func Eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// FindLine returns the first transcript line with text.
func FindLine(v render.View, text string) (render.Line, bool) {
	for _, l := range v.Lines {
		if l.Text == text {
			return l, true
		}
	}
	return render.Line{}, false
}

// RosterItem returns the roster entry for userID.
func RosterItem(v render.View, userID int64) (render.RosterItem, bool) {
	for _, item := range v.Roster {
		if item.UserID == userID {
			return item, true
		}
	}
	return render.RosterItem{}, false
}
