// Package testserver is an in-process fake of the chat server used by
// package tests. It speaks the same REST wrapper and socket envelopes as
// the real server and keeps all state in memory.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatclient/pkg/types"
)

var signingKey = []byte("testserver-signing-key")

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 5 * time.Second,
}

// Envelope is the socket frame as the server writes it.
type Envelope struct {
	Type           string `json:"type"`
	SenderID       int64  `json:"senderId,omitempty"`
	SenderUsername string `json:"senderUsername,omitempty"`
	ReceiverID     int64  `json:"receiverId,omitempty"`
	GroupID        int64  `json:"groupId,omitempty"`
	GroupName      string `json:"groupName,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageID      int64  `json:"messageId,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// StoredMessage is one row of history or offline backlog.
type StoredMessage struct {
	ID             int64
	SenderID       int64
	SenderUsername string
	ReceiverID     int64
	GroupID        int64
	Content        string
	CreatedAt      time.Time
}

type account struct {
	user     types.User
	password string
}

type group struct {
	info    types.Group
	members []int64
}

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteJSON(v)
}

// Server is the fake chat server.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	accounts  map[int64]*account
	tokens    map[string]int64
	groups    map[int64]*group
	private   map[[2]int64][]StoredMessage
	groupLog  map[int64][]StoredMessage
	offline   map[int64][]StoredMessage
	peers     map[int64]*peer
	received  map[int64][]Envelope
	hits      map[string]int
	failures  map[string]int
	nextID    int64
	nextMsgID int64
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts:  make(map[int64]*account),
		tokens:    make(map[string]int64),
		groups:    make(map[int64]*group),
		private:   make(map[[2]int64][]StoredMessage),
		groupLog:  make(map[int64][]StoredMessage),
		offline:   make(map[int64][]StoredMessage),
		peers:     make(map[int64]*peer),
		received:  make(map[int64][]Envelope),
		hits:      make(map[string]int),
		failures:  make(map[string]int),
		nextID:    1000,
		nextMsgID: 5000,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(func() {
		s.DropConnections()
		s.Close()
	})
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countHits)

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/register", s.handleRegister)
	r.Get("/ws/chat", s.handleSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/users/me", s.handleMe)
		r.Get("/api/users/online", s.handleOnline)
		r.Get("/api/users", s.handleAllUsers)
		r.Get("/api/groups/my", s.handleMyGroups)
		r.Post("/api/groups", s.handleCreateGroup)
		r.Get("/api/groups/{id}/members/list", s.handleMembers)
		r.Delete("/api/groups/{id}/members/{userId}", s.handleKick)
		r.Post("/api/groups/{id}/join", s.handleJoin)
		r.Get("/api/messages/private/{userId}", s.handlePrivateHistory)
		r.Get("/api/messages/group/{groupId}", s.handleGroupHistory)
		r.Get("/api/messages/offline", s.handleOffline)
	})
	return r
}

// AddUser registers an account.
func (s *Server) AddUser(id int64, username, password string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &account{
		user:     types.User{ID: id, Username: username, Online: online},
		password: password,
	}
}

// SetOnline flips the presence flag reported by /api/users/online.
func (s *Server) SetOnline(id int64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.user.Online = online
	}
}

// IssueToken mints a valid token for id that expires after ttl.
func (s *Server) IssueToken(id int64, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(id, ttl)
}

func (s *Server) issueLocked(id int64, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprint(id),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	s.tokens[token] = id
	return token
}

// RevokeToken makes token fail every authenticated call.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// AddGroup creates a group with the given members.
func (s *Server) AddGroup(g types.Group, members ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.CurrentMembers = len(members)
	s.groups[g.ID] = &group{info: g, members: append([]int64(nil), members...)}
}

// Members returns the member ids of a group.
func (s *Server) Members(groupID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		return append([]int64(nil), g.members...)
	}
	return nil
}

// SetPrivateHistory stores history between a and b, oldest first.
func (s *Server) SetPrivateHistory(a, b int64, msgs ...StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[pairKey(a, b)] = msgs
}

// SetGroupHistory stores group history, oldest first.
func (s *Server) SetGroupHistory(groupID int64, msgs ...StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupLog[groupID] = msgs
}

// QueueOffline adds backlog for userID. Like the real server the backlog
// is not cleared when fetched.
func (s *Server) QueueOffline(userID int64, msgs ...StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline[userID] = append(s.offline[userID], msgs...)
}

// ClearOffline empties the backlog of userID.
func (s *Server) ClearOffline(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offline, userID)
}

// FailNext makes the next n requests to path answer with a 500.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// Hits reports how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// SocketURL is the ws:// URL of the chat socket.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat"
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		fail := s.failures[r.URL.Path] > 0
		if fail {
			s.failures[r.URL.Path]--
		}
		s.mu.Unlock()

		if fail {
			writeJSON(w, http.StatusInternalServerError, response{Message: "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, ok := s.lookupToken(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, response{Message: "未授权"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), id)))
	})
}

func (s *Server) lookupToken(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	return id, ok
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Message: message})
}

func formatTime(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02T15:04:05")
}
