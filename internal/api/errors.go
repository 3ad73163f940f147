package api

import (
	"errors"
	"fmt"
	"net/http"

	"chatclient/pkg/interfaces"
)

var (
	ErrEmptyToken        = errors.New("bearer token is empty")
	ErrMalformedResponse = errors.New("malformed server response")
	ErrInvalidBaseURL    = errors.New("base URL must be absolute")
)

// Error is a non-success answer from the chat server. Message carries the
// server text so callers can show it to the user verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps 401 and 403 onto interfaces.ErrUnauthorized.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return interfaces.ErrUnauthorized
	}
	return nil
}

// ServerMessage extracts the server text from err, falling back to the
// error string.
func ServerMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
