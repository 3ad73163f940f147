package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"chatclient/pkg/types"
)

func withUser(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func userFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

type authPayload struct {
	AccessToken string     `json:"accessToken"`
	TokenType   string     `json:"tokenType"`
	ExpiresIn   int64      `json:"expiresIn"`
	User        types.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "请求格式错误")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Username == req.Username && a.password == req.Password {
			token := s.issueLocked(a.user.ID, time.Hour)
			ok(w, authPayload{AccessToken: token, TokenType: "Bearer", ExpiresIn: 3600, User: a.user})
			return
		}
	}
	fail(w, http.StatusBadRequest, "用户名或密码错误")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "请求格式错误")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Username == req.Username {
			fail(w, http.StatusBadRequest, "用户名已存在")
			return
		}
	}
	s.nextID++
	user := types.User{ID: s.nextID, Username: req.Username, Email: req.Email, Nickname: req.Nickname}
	s.accounts[user.ID] = &account{user: user, password: req.Password}
	token := s.issueLocked(user.ID, time.Hour)
	ok(w, authPayload{AccessToken: token, TokenType: "Bearer", ExpiresIn: 3600, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.accounts[userFrom(r)]
	if !found {
		fail(w, http.StatusNotFound, "用户不存在")
		return
	}
	ok(w, a.user)
}

func (s *Server) sortedUsers(filter func(types.User) bool) []types.User {
	users := make([]types.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		if filter(a.user) {
			users = append(users, a.user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, s.sortedUsers(func(u types.User) bool { return u.Online }))
}

func (s *Server) handleAllUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, s.sortedUsers(func(types.User) bool { return true }))
}

func (s *Server) handleMyGroups(w http.ResponseWriter, r *http.Request) {
	me := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Group
	for _, g := range s.groups {
		for _, m := range g.members {
			if m == me {
				out = append(out, g.info)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	ok(w, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len([]rune(req.Name)) < 2 {
		fail(w, http.StatusBadRequest, "群组名称长度必须在2-100个字符之间")
		return
	}

	me := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	info := types.Group{ID: s.nextID, Name: req.Name, OwnerID: me, CurrentMembers: 1}
	if a, found := s.accounts[me]; found {
		info.OwnerUsername = a.user.Username
	}
	s.groups[info.ID] = &group{info: info, members: []int64{me}}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "群组创建成功", Data: info})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.groups[id]
	if !valid || !found {
		fail(w, http.StatusNotFound, "群组不存在")
		return
	}
	members := make([]types.User, 0, len(g.members))
	for _, m := range g.members {
		if a, found := s.accounts[m]; found {
			members = append(members, a.user)
		}
	}
	ok(w, members)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	id, validGroup := pathID(r, "id")
	target, validUser := pathID(r, "userId")
	me := userFrom(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.groups[id]
	if !validGroup || !validUser || !found {
		fail(w, http.StatusNotFound, "群组不存在")
		return
	}
	if g.info.OwnerID != me {
		fail(w, http.StatusBadRequest, "只有群主可以移除成员")
		return
	}
	kept := g.members[:0]
	for _, m := range g.members {
		if m != target {
			kept = append(kept, m)
		}
	}
	g.members = kept
	g.info.CurrentMembers = len(kept)
	writeJSON(w, http.StatusOK, response{Success: true, Message: "移除成员成功"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	var req struct {
		GroupID int64 `json:"groupId"`
		UserID  int64 `json:"userId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	joiner := req.UserID
	if joiner == 0 {
		joiner = userFrom(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.groups[id]
	if !valid || !found {
		fail(w, http.StatusNotFound, "群组不存在")
		return
	}
	for _, m := range g.members {
		if m == joiner {
			fail(w, http.StatusBadRequest, "用户已在群组中")
			return
		}
	}
	g.members = append(g.members, joiner)
	g.info.CurrentMembers = len(g.members)
	writeJSON(w, http.StatusOK, response{Success: true, Message: "加入群组成功"})
}

type messageRow struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	SenderID       int64  `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	ReceiverID     int64  `json:"receiverId,omitempty"`
	GroupID        int64  `json:"groupId,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// newestFirst renders rows the way the history endpoints return them.
func newestFirst(msgs []StoredMessage, kind string) []messageRow {
	rows := make([]messageRow, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		rows = append(rows, toRow(msgs[i], kind))
	}
	return rows
}

func toRow(m StoredMessage, kind string) messageRow {
	return messageRow{
		ID:             m.ID,
		Content:        m.Content,
		MessageType:    kind,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		ReceiverID:     m.ReceiverID,
		GroupID:        m.GroupID,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}

func (s *Server) handlePrivateHistory(w http.ResponseWriter, r *http.Request) {
	peerID, valid := pathID(r, "userId")
	if !valid {
		fail(w, http.StatusBadRequest, "用户ID无效")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, newestFirst(s.private[pairKey(userFrom(r), peerID)], "PRIVATE"))
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	groupID, valid := pathID(r, "groupId")
	if !valid {
		fail(w, http.StatusBadRequest, "群组ID无效")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok(w, newestFirst(s.groupLog[groupID], "GROUP"))
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backlog := s.offline[userFrom(r)]
	rows := make([]messageRow, 0, len(backlog))
	for _, m := range backlog {
		rows = append(rows, toRow(m, "PRIVATE"))
	}
	ok(w, rows)
}

// handleSocket authenticates by query token, then relays envelopes between
// connected users the way the real server does.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	id, valid := s.lookupToken(r.URL.Query().Get("token"))
	if !valid {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	if old, exists := s.peers[id]; exists {
		old.conn.Close()
	}
	s.peers[id] = p
	username := ""
	if a, found := s.accounts[id]; found {
		a.user.Online = true
		username = a.user.Username
	}
	s.mu.Unlock()

	s.broadcastExcept(id, Envelope{Type: types.EnvelopeUserOnline, SenderID: id, SenderUsername: username})

	defer func() {
		s.mu.Lock()
		current := s.peers[id] == p
		if current {
			delete(s.peers, id)
			if a, found := s.accounts[id]; found {
				a.user.Online = false
			}
		}
		s.mu.Unlock()
		conn.Close()
		if current {
			s.broadcastExcept(id, Envelope{Type: types.EnvelopeUserOffline, SenderID: id, SenderUsername: username})
		}
	}()

	for {
		var in Envelope
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		s.mu.Lock()
		s.received[id] = append(s.received[id], in)
		s.mu.Unlock()

		switch in.Type {
		case types.EnvelopePing:
			_ = p.write(Envelope{Type: types.EnvelopePong})
		case types.EnvelopePrivateMessage:
			s.relayPrivate(id, username, p, in)
		case types.EnvelopeGroupMessage:
			s.relayGroup(id, username, p, in)
		}
	}
}

func (s *Server) relayPrivate(from int64, username string, sender *peer, in Envelope) {
	now := time.Now()
	s.mu.Lock()
	s.nextMsgID++
	stored := StoredMessage{ID: s.nextMsgID, SenderID: from, SenderUsername: username,
		ReceiverID: in.ReceiverID, Content: in.Content, CreatedAt: now}
	key := pairKey(from, in.ReceiverID)
	s.private[key] = append(s.private[key], stored)
	target := s.peers[in.ReceiverID]
	if target == nil {
		s.offline[in.ReceiverID] = append(s.offline[in.ReceiverID], stored)
	}
	s.mu.Unlock()

	if target != nil {
		_ = target.write(Envelope{Type: types.EnvelopePrivateMessage, MessageID: stored.ID,
			SenderID: from, SenderUsername: username, ReceiverID: in.ReceiverID,
			Content: in.Content, Timestamp: formatTime(now)})
	}
	_ = sender.write(Envelope{Type: types.EnvelopePrivateMessageAck, MessageID: stored.ID,
		ReceiverID: in.ReceiverID, Timestamp: formatTime(now)})
}

func (s *Server) relayGroup(from int64, username string, sender *peer, in Envelope) {
	now := time.Now()
	s.mu.Lock()
	g, found := s.groups[in.GroupID]
	if !found {
		s.mu.Unlock()
		_ = sender.write(Envelope{Type: types.EnvelopeError, Content: "群组不存在"})
		return
	}
	s.nextMsgID++
	stored := StoredMessage{ID: s.nextMsgID, SenderID: from, SenderUsername: username,
		GroupID: in.GroupID, Content: in.Content, CreatedAt: now}
	s.groupLog[in.GroupID] = append(s.groupLog[in.GroupID], stored)
	var targets []*peer
	for _, m := range g.members {
		if p := s.peers[m]; p != nil && m != from {
			targets = append(targets, p)
		}
	}
	name := g.info.Name
	s.mu.Unlock()

	out := Envelope{Type: types.EnvelopeGroupMessage, MessageID: stored.ID, SenderID: from,
		SenderUsername: username, GroupID: in.GroupID, GroupName: name,
		Content: in.Content, Timestamp: formatTime(now)}
	for _, p := range targets {
		_ = p.write(out)
	}
	_ = sender.write(Envelope{Type: types.EnvelopeGroupMessageAck, MessageID: stored.ID,
		GroupID: in.GroupID, Timestamp: formatTime(now)})
}

func (s *Server) broadcastExcept(id int64, env Envelope) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.peers))
	for other, p := range s.peers {
		if other != id {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()
	for _, p := range targets {
		_ = p.write(env)
	}
}

// Push writes a raw frame to the socket of userID.
func (s *Server) Push(userID int64, frame any) error {
	s.mu.Lock()
	p := s.peers[userID]
	s.mu.Unlock()
	if p == nil {
		return websocket.ErrCloseSent
	}
	return p.write(frame)
}

// Connected reports whether userID holds a socket.
func (s *Server) Connected(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.peers[userID]
	return found
}

// WaitConnected polls until userID connects or the timeout passes.
func (s *Server) WaitConnected(userID int64, timeout time.Duration) bool {
	return waitFor(timeout, func() bool { return s.Connected(userID) })
}

// WaitDisconnected polls until userID has no socket or the timeout passes.
func (s *Server) WaitDisconnected(userID int64, timeout time.Duration) bool {
	return waitFor(timeout, func() bool { return !s.Connected(userID) })
}

// Received returns the envelopes userID sent over the socket.
func (s *Server) Received(userID int64) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.received[userID]...)
}

// DropConnections closes every socket from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.mu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		p.mu.Unlock()
		p.conn.Close()
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
