// Package groups manages the group list and the owner actions on the
// active group.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/message"

	"chatclient/internal/i18n"
	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

// Conversations is the part of the router the group actions read.
type Conversations interface {
	Active() (types.Conversation, bool)
	Members() ([]types.User, bool)
	ReloadMembers(ctx context.Context) error
}

// Options carries the optional collaborators.
type Options struct {
	Notifier interfaces.Notifier
	Printer  *message.Printer
	Logger   *slog.Logger
}

// Service keeps the list of groups the user belongs to. Actions the user
// starts raise alerts; background loads only log.
type Service struct {
	api       interfaces.GroupService
	directory interfaces.DirectoryService
	tokens    interfaces.TokenSource
	convs     Conversations
	notifier  interfaces.Notifier
	printer   *message.Printer
	logger    *slog.Logger

	mu     sync.RWMutex
	groups []types.Group
}

type discardNotifier struct{}

func (discardNotifier) Alert(string) {}

// NewService wires the group service.
func NewService(api interfaces.GroupService, directory interfaces.DirectoryService, tokens interfaces.TokenSource, convs Conversations, opts Options) *Service {
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Printer == nil {
		opts.Printer = i18n.Printer(i18n.DefaultLocale)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		api:       api,
		directory: directory,
		tokens:    tokens,
		convs:     convs,
		notifier:  opts.Notifier,
		printer:   opts.Printer,
		logger:    opts.Logger.With(slog.String("component", "groups")),
	}
}

// Groups returns the known groups ordered by id.
func (s *Service) Groups() []types.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

// Group looks a group up by id.
func (s *Service) Group(id int64) (types.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.ID == id {
			return g, true
		}
	}
	return types.Group{}, false
}

// Load replaces the group list. A failure keeps the previous list.
func (s *Service) Load(ctx context.Context) error {
	token := s.tokens.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	list, err := s.api.MyGroups(ctx, token)
	if err != nil {
		s.logger.Warn("loading groups failed", slog.String("error", err.Error()))
		return fmt.Errorf("load groups: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	s.mu.Lock()
	s.groups = list
	s.mu.Unlock()
	return nil
}

// Reset forgets every group.
func (s *Service) Reset() {
	s.mu.Lock()
	s.groups = nil
	s.mu.Unlock()
}

// Create makes a new group owned by the user and reloads the list.
func (s *Service) Create(ctx context.Context, name string) (*types.Group, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if err := types.ValidateGroupName(name); err != nil {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertGroupCreateFailed, err.Error()))
		return nil, err
	}

	g, err := s.api.CreateGroup(ctx, token, name)
	if err != nil {
		s.notifier.Alert(i18n.Failure(s.printer, err, i18n.AlertGroupCreateFailed, i18n.AlertGroupCreateError))
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.notifier.Alert(s.printer.Sprintf(i18n.AlertGroupCreated))
	_ = s.Load(ctx)
	return g, nil
}

// activeGroup returns the active conversation when it is a group.
func (s *Service) activeGroup() (types.Conversation, error) {
	conv, ok := s.convs.Active()
	if !ok {
		return types.Conversation{}, ErrNoGroupSelected
	}
	if conv.Kind != types.ScopeGroup {
		return conv, ErrDirectConversation
	}
	return conv, nil
}

// Kick removes a member from the active group. Only the owner may kick,
// and never themselves.
func (s *Service) Kick(ctx context.Context, userID int64) error {
	token := s.tokens.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	conv, err := s.activeGroup()
	if err != nil {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertSelectGroupFirst))
		return err
	}
	self := s.tokens.Identity().ID
	if conv.OwnerID != self {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertKickNotOwner))
		return ErrNotOwner
	}
	if userID == self {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertKickSelf))
		return ErrCannotKickSelf
	}

	if err := s.api.RemoveMember(ctx, token, conv.PeerID, userID); err != nil {
		s.notifier.Alert(i18n.Failure(s.printer, err, i18n.AlertKickFailed, i18n.AlertKickError))
		return fmt.Errorf("kick member: %w", err)
	}
	s.notifier.Alert(s.printer.Sprintf(i18n.AlertMemberKicked, s.memberName(userID)))
	if err := s.convs.ReloadMembers(ctx); err != nil {
		s.logger.Warn("reloading members failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Service) memberName(userID int64) string {
	members, _ := s.convs.Members()
	for _, m := range members {
		if m.ID == userID {
			return m.Username
		}
	}
	return fmt.Sprintf("#%d", userID)
}

// InviteCandidates lists online users who are not yet members of the
// active group, excluding the user.
func (s *Service) InviteCandidates(ctx context.Context) ([]types.User, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	if _, err := s.activeGroup(); err != nil {
		s.alertNoGroup(err)
		return nil, err
	}

	online, err := s.directory.OnlineUsers(ctx, token)
	if err != nil {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertLoadUsersFailed))
		return nil, fmt.Errorf("load online users: %w", err)
	}

	exclude := map[int64]bool{s.tokens.Identity().ID: true}
	members, _ := s.convs.Members()
	for _, m := range members {
		exclude[m.ID] = true
	}

	var candidates []types.User
	for _, u := range online {
		if !exclude[u.ID] {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertNoInviteCandidates))
		return nil, ErrNoCandidates
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Username < candidates[j].Username })
	return candidates, nil
}

func (s *Service) alertNoGroup(err error) {
	if errors.Is(err, ErrDirectConversation) {
		s.notifier.Alert(s.printer.Sprintf(i18n.AlertDirectNoInvite))
		return
	}
	s.notifier.Alert(s.printer.Sprintf(i18n.AlertSelectGroupFirst))
}

// Invite adds a user to the active group and reloads the member list.
func (s *Service) Invite(ctx context.Context, userID int64) error {
	token := s.tokens.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	conv, err := s.activeGroup()
	if err != nil {
		s.alertNoGroup(err)
		return err
	}

	if err := s.api.AddMember(ctx, token, conv.PeerID, userID); err != nil {
		s.notifier.Alert(i18n.Failure(s.printer, err, i18n.AlertInviteFailed, i18n.AlertInviteError))
		return fmt.Errorf("invite member: %w", err)
	}
	s.notifier.Alert(s.printer.Sprintf(i18n.AlertMemberInvited))
	if err := s.convs.ReloadMembers(ctx); err != nil {
		s.logger.Warn("reloading members failed", slog.String("error", err.Error()))
	}
	return nil
}
