package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// MaxContentBytes bounds a single outbound message.
const MaxContentBytes = 65536

// Validate checks a conversation before it becomes active.
func (c Conversation) Validate() error {
	if c.Kind != ScopeDirect && c.Kind != ScopeGroup {
		return ErrInvalidConversation
	}
	if c.PeerID <= 0 {
		return ErrInvalidConversation
	}
	return nil
}

// Validate checks registration input locally so obviously bad forms never
// reach the server.
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return ErrEmptyUsername
	}
	if r.Password == "" {
		return ErrEmptyPassword
	}
	if r.Email != "" && !emailRegex.MatchString(r.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateCredentials checks login input.
func ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return ErrEmptyUsername
	}
	if password == "" {
		return ErrEmptyPassword
	}
	return nil
}

// ValidateGroupName checks a group name for creation.
func ValidateGroupName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 2 || n > 100 {
		return ErrInvalidGroupName
	}
	return nil
}

// IsWithinContentLimit reports whether content fits one envelope.
func IsWithinContentLimit(content string) bool {
	return len(content) <= MaxContentBytes
}
