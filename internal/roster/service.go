// Package roster keeps the set of known counterparts and their presence,
// reconciled from socket pushes and REST snapshots.
package roster

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

// Service owns the roster. Entries are never deleted while a session
// lasts: a counterpart going offline is kept and marked offline.
type Service struct {
	directory interfaces.DirectoryService
	logger    *slog.Logger

	mu      sync.RWMutex
	self    int64
	entries map[int64]*types.RosterEntry
	order   []int64
}

// NewService creates an empty roster.
func NewService(directory interfaces.DirectoryService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		directory: directory,
		logger:    logger.With(slog.String("component", "roster")),
		entries:   make(map[int64]*types.RosterEntry),
	}
}

// SetSelf records the current identity, which is never listed. An existing
// entry for it is dropped.
func (s *Service) SetSelf(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = userID
	s.removeLocked(userID)
}

// ApplyPresenceEvent upserts userID with the given online flag. An empty
// username keeps the stored one. Events for the current identity are
// dropped.
func (s *Service) ApplyPresenceEvent(userID int64, username string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.self {
		return
	}
	if e, ok := s.entries[userID]; ok {
		e.Online = online
		if username != "" {
			e.Username = username
		}
		return
	}
	s.insertLocked(types.RosterEntry{UserID: userID, Username: username, Online: online})
}

// EnsureKnown inserts userID when it is missing. An existing entry is left
// untouched so a message from a known user never flips their presence.
func (s *Service) EnsureKnown(userID int64, username string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.self {
		return
	}
	if _, ok := s.entries[userID]; ok {
		return
	}
	s.insertLocked(types.RosterEntry{UserID: userID, Username: username, Online: online})
}

// ReconcileSnapshot replaces the roster with allUsers, marking online
// exactly those in onlineIDs.
func (s *Service) ReconcileSnapshot(onlineIDs []int64, allUsers []types.User) {
	online := make(map[int64]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[int64]*types.RosterEntry, len(allUsers))
	s.order = s.order[:0]
	for _, u := range allUsers {
		if u.ID == s.self {
			continue
		}
		if e, ok := s.entries[u.ID]; ok {
			e.Username = u.Username
			continue
		}
		s.insertLocked(types.RosterEntry{UserID: u.ID, Username: u.Username, Online: online[u.ID]})
	}
}

// Refresh pulls the online list and the full directory and reconciles.
// Online users missing from the directory are still listed. It runs in
// the background, so failures are only logged.
func (s *Service) Refresh(ctx context.Context, token string) {
	onlineUsers, err := s.directory.OnlineUsers(ctx, token)
	if err != nil {
		s.logger.Warn("loading online users failed", slog.String("error", err.Error()))
		return
	}

	allUsers, err := s.directory.AllUsers(ctx, token)
	if err != nil {
		s.logger.Warn("loading user directory failed, using online list only",
			slog.String("error", err.Error()))
		allUsers = nil
	}

	ids := make([]int64, 0, len(onlineUsers))
	seen := make(map[int64]bool, len(allUsers))
	for _, u := range allUsers {
		seen[u.ID] = true
	}
	for _, u := range onlineUsers {
		ids = append(ids, u.ID)
		if !seen[u.ID] {
			allUsers = append(allUsers, u)
		}
	}

	s.ReconcileSnapshot(ids, allUsers)
	s.logger.Debug("roster refreshed",
		slog.Int("online", len(ids)),
		slog.Int("known", s.Len()),
	)
}

// Entry returns one entry.
func (s *Service) Entry(userID int64) (types.RosterEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok {
		return types.RosterEntry{}, false
	}
	return *e, true
}

// Entries returns a copy in first-seen order.
func (s *Service) Entries() []types.RosterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RosterEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out
}

// Online returns the online entries sorted by username.
func (s *Service) Online() []types.RosterEntry {
	var out []types.RosterEntry
	for _, e := range s.Entries() {
		if e.Online {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Len returns the number of entries.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset empties the roster and forgets the identity.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = 0
	s.entries = make(map[int64]*types.RosterEntry)
	s.order = nil
}

func (s *Service) insertLocked(e types.RosterEntry) {
	s.entries[e.UserID] = &e
	s.order = append(s.order, e.UserID)
}

func (s *Service) removeLocked(userID int64) {
	if _, ok := s.entries[userID]; !ok {
		return
	}
	delete(s.entries, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
