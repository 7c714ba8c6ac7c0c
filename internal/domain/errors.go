package domain

import "errors"

var (
	ErrPollNotFound      = errors.New("poll not found")
	ErrUnknownOption     = errors.New("option not part of poll")
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrSnapshotMissing   = errors.New("no snapshot available")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionUnknown = errors.New("connection not registered")
	ErrQueueFull         = errors.New("send queue full")
	ErrShuttingDown      = errors.New("broadcaster shutting down")
)
