package app

import "errors"

var (
	ErrNotStarted     = errors.New("application is not started")
	ErrAlreadyStarted = errors.New("application is already started")
	ErrUnknownUser    = errors.New("user is not in the roster")
	ErrUnknownGroup   = errors.New("group is not in the group list")
)
