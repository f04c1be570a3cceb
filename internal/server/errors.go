package server

import (
	"errors"

	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
)

var (
	ErrUnauthorized       = auth.ErrUnauthorized
	ErrStorageUnavailable = blob.ErrStorageUnavailable
	ErrNotFound           = errors.New("message not found")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrEmptyContent       = errors.New("empty content")
	ErrShuttingDown       = errors.New("server shutting down")
	// ErrSessionOverflow is returned when a joining session cannot absorb
	// its own backlog.
	ErrSessionOverflow = errors.New("session send queue full")

	errRoomClosed = errors.New("room closed")
)
