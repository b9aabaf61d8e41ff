package session

import (
	"errors"

	"termwrap/internal/terminal"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrExited            = errors.New("session process has exited")
	ErrMaxSessions       = errors.New("maximum session limit reached")
	ErrShutdown          = errors.New("session manager is shut down")
	ErrInvalidCommand    = errors.New("command must not be empty")
	ErrInvalidDimensions = errors.New("rows and cols must be between 1 and 65535")

	// ErrStartup matches errors from a command that failed to start.
	ErrStartup = terminal.ErrStartup
)
