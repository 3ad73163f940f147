package session

import "errors"

var (
	ErrAlreadyAuthenticated = errors.New("a session is already active")
	ErrMissingToken         = errors.New("server answered without a token")
)
