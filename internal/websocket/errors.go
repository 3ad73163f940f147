package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrMissingField     = errors.New("envelope missing required field")
)

// Transport-related errors
var (
	ErrNotConnected      = errors.New("transport is not connected")
	ErrEmptyToken        = errors.New("cannot connect without a token")
	ErrReconnectDisabled = errors.New("reconnect policy is disabled")
	ErrHandshakeRejected = errors.New("server rejected the socket handshake")
	ErrClosedDuringDial  = errors.New("transport closed while dialing")
)
