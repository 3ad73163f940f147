package types

import (
	"time"
)

// Envelope type constants as they appear on the chat socket.
const (
	EnvelopeUserOnline        = "USER_ONLINE"
	EnvelopeUserOffline       = "USER_OFFLINE"
	EnvelopePrivateMessage    = "PRIVATE_MESSAGE"
	EnvelopeGroupMessage      = "GROUP_MESSAGE"
	EnvelopeGroupNotification = "GROUP_NOTIFICATION"
	EnvelopePrivateMessageAck = "PRIVATE_MESSAGE_ACK"
	EnvelopeGroupMessageAck   = "GROUP_MESSAGE_ACK"
	EnvelopeError             = "ERROR"
	EnvelopeSystem            = "SYSTEM"
	EnvelopePing              = "PING"
	EnvelopePong              = "PONG"
)

// Scope tells whether a message or conversation is one-to-one or a group.
type Scope string

const (
	ScopeDirect Scope = "DIRECT"
	ScopeGroup  Scope = "GROUP"
)

// Identity is the authenticated user as returned by /api/users/me.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// IsZero reports whether no identity is set.
func (i Identity) IsZero() bool {
	return i.ID == 0 && i.Username == ""
}

// User is a directory entry. Online is only meaningful in /api/users/online
// responses, the full user list does not keep it current.
type User struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email,omitempty"`
	Nickname      string     `json:"nickname,omitempty"`
	Avatar        string     `json:"avatar,omitempty"`
	Online        bool       `json:"online"`
	LastLoginTime *Timestamp `json:"lastLoginTime,omitempty"`
	CreatedAt     *Timestamp `json:"createdAt,omitempty"`
}

// Identity projects the user into an Identity.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Nickname: u.Nickname}
}

// Group is a chat group the current user belongs to.
type Group struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	OwnerID        int64      `json:"ownerId"`
	OwnerUsername  string     `json:"ownerUsername,omitempty"`
	MaxMembers     int        `json:"maxMembers,omitempty"`
	CurrentMembers int        `json:"currentMembers,omitempty"`
	CreatedAt      *Timestamp `json:"createdAt,omitempty"`
}

// Message is an immutable chat message. ID is the server message id and is
// zero when the server did not send one.
type Message struct {
	ID             int64
	SenderID       int64
	SenderUsername string
	ReceiverID     int64
	GroupID        int64
	GroupName      string
	Content        string
	Timestamp      time.Time
	Scope          Scope
}

// Conversation is the single chat the user currently looks at. PeerID is a
// user id for DIRECT and a group id for GROUP.
type Conversation struct {
	Kind        Scope
	PeerID      int64
	DisplayName string
	OwnerID     int64
}

// Direct builds a one-to-one conversation.
func Direct(userID int64, username string) Conversation {
	return Conversation{Kind: ScopeDirect, PeerID: userID, DisplayName: username}
}

// GroupConversation builds a group conversation from a group listing.
func GroupConversation(g Group) Conversation {
	return Conversation{Kind: ScopeGroup, PeerID: g.ID, DisplayName: g.Name, OwnerID: g.OwnerID}
}

// Same reports whether two conversations point at the same chat.
func (c Conversation) Same(other Conversation) bool {
	return c.Kind == other.Kind && c.PeerID == other.PeerID
}

// RosterEntry is one counterpart in the roster.
type RosterEntry struct {
	UserID   int64
	Username string
	Online   bool
}

// EntryKind separates messages from system notices in the transcript.
type EntryKind int

const (
	EntryMessage EntryKind = iota
	EntryNotice
)

// Entry is one transcript line. Key is the message id for messages and a
// generated id for notices.
type Entry struct {
	Key       string
	Kind      EntryKind
	Message   *Message
	Text      string
	Timestamp time.Time
}

// Registration carries the fields of /api/auth/register.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname,omitempty"`
}

// AuthResult is what a successful login or registration yields.
type AuthResult struct {
	Token     string
	TokenType string
	ExpiresIn int64
	User      Identity
}
