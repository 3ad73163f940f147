package types

import "errors"

var (
	ErrEmptyUsername       = errors.New("username must not be empty")
	ErrEmptyPassword       = errors.New("password must not be empty")
	ErrInvalidEmail        = errors.New("email address is malformed")
	ErrInvalidConversation = errors.New("conversation needs a kind and a positive peer id")
	ErrInvalidGroupName    = errors.New("group name must be 2-100 characters")
	ErrContentTooLarge     = errors.New("message content exceeds 64KB limit")
	ErrInvalidTimestamp    = errors.New("unrecognised timestamp format")
)
