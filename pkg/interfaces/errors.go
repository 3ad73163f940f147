package interfaces

import "errors"

// Common errors shared by implementations of these interfaces.
var (
	ErrTokenNotFound = errors.New("no stored session token")
	ErrUnauthorized  = errors.New("unauthorized")
)
