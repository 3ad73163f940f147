package interfaces

import (
	"context"

	"chatclient/pkg/types"
)

// AuthService covers the credential endpoints of the chat server.
// ARCHITECTURAL DISCOVERY: the token is always passed explicitly so a
// late callback can never pick up a token that was cleared in between.
type AuthService interface {
	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, username, password string) (*types.AuthResult, error)

	// Register creates an account and logs it in.
	Register(ctx context.Context, reg types.Registration) (*types.AuthResult, error)

	// CurrentUser validates a token. Any error means the token is not usable.
	CurrentUser(ctx context.Context, token string) (*types.Identity, error)
}

// DirectoryService lists users for roster reconciliation.
type DirectoryService interface {
	OnlineUsers(ctx context.Context, token string) ([]types.User, error)
	AllUsers(ctx context.Context, token string) ([]types.User, error)
}

// HistoryService loads conversation history and group membership.
type HistoryService interface {
	// PrivateHistory returns the messages exchanged with peerID, newest first.
	PrivateHistory(ctx context.Context, token string, peerID int64) ([]types.Message, error)

	// GroupHistory returns the messages of a group, newest first.
	GroupHistory(ctx context.Context, token string, groupID int64) ([]types.Message, error)

	// GroupMembers lists the members of a group.
	GroupMembers(ctx context.Context, token string, groupID int64) ([]types.User, error)
}

// OfflineSource returns messages queued while the user had no live
// connection.
// FUNCTIONAL DISCOVERY: the server returns unread messages since last
// login and does not mark them delivered, so callers dedup by id.
type OfflineSource interface {
	OfflineMessages(ctx context.Context, token string) ([]types.Message, error)
}

// GroupService covers group management.
type GroupService interface {
	MyGroups(ctx context.Context, token string) ([]types.Group, error)
	CreateGroup(ctx context.Context, token string, name string) (*types.Group, error)
	RemoveMember(ctx context.Context, token string, groupID, userID int64) error
	AddMember(ctx context.Context, token string, groupID, userID int64) error
}
