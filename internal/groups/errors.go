package groups

import "errors"

var (
	ErrNoGroupSelected    = errors.New("no group conversation is active")
	ErrDirectConversation = errors.New("direct conversations take no invitations")
	ErrNotOwner           = errors.New("only the group owner can remove members")
	ErrCannotKickSelf     = errors.New("the owner cannot remove themselves")
	ErrNoCandidates       = errors.New("no online users to invite")
	ErrNotAuthenticated   = errors.New("no active session")
)
