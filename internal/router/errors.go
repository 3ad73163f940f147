package router

import "errors"

var (
	ErrEmptyContent         = errors.New("message content is empty")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrRateLimited          = errors.New("sending too fast, slow down")
)
