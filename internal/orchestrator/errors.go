package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionUnavailable means the session is not connected and
	// registered, so it cannot carry traffic.
	ErrSessionUnavailable = errors.New("session not connected")

	// ErrInvalidMedia means an outbound attachment did not provide
	// exactly one payload source.
	ErrInvalidMedia = errors.New("exactly one media source required")

	// ErrInvalidStatus means an unknown conversation status was given.
	ErrInvalidStatus = errors.New("invalid conversation status")
)

// DeleteFailedError reports a hard delete whose disconnect half succeeded
// but whose removal half did not. The session is offline; its row or
// credentials may linger.
type DeleteFailedError struct {
	SessionID string
	Err       error
}

func (e *DeleteFailedError) Error() string {
	return fmt.Sprintf("session %s disconnected but delete failed: %v", e.SessionID, e.Err)
}

func (e *DeleteFailedError) Unwrap() error { return e.Err }
