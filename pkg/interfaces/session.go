package interfaces

import (
	"context"

	"chatclient/pkg/types"
)

// TokenStore persists the single session token across restarts.
type TokenStore interface {
	// LoadToken returns the stored token or ErrTokenNotFound.
	LoadToken(ctx context.Context) (string, error)

	// SaveToken overwrites the stored token.
	SaveToken(ctx context.Context, token string) error

	// ClearToken removes the stored token. Clearing an empty slot is not an error.
	ClearToken(ctx context.Context) error
}

// TokenSource hands out the current bearer token and identity. An empty
// token means no session is active.
type TokenSource interface {
	Token() string
	Identity() types.Identity
}

// Notifier raises user-facing alerts for user-initiated failures and
// results. Background failures never go through it.
type Notifier interface {
	Alert(message string)
}
