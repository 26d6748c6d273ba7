package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the room or message no longer exists, or the
	// caller lost membership. Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means the server rejected the caller's
	// credentials or role for the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBackpressure means the outbound queue is full. The action was
	// not queued; the caller must surface this to the user.
	ErrBackpressure = errors.New("outbound queue full")

	// ErrMessageTooLarge means the content or attachment exceeds the
	// configured client-side limit.
	ErrMessageTooLarge = errors.New("message exceeds size limit")

	// ErrNoOpenRoom means a room-scoped action was issued with no room
	// open.
	ErrNoOpenRoom = errors.New("no open room")
)

// NetworkError wraps a transient REST transport failure. Retryable by
// the caller.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConnectionError means the websocket could not be established or
// maintained within the retry budget. Cached state stays usable.
type ConnectionError struct {
	RoomID   string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to room %s failed after %d attempts: %v", e.RoomID, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError marks a malformed inbound frame. Logged and dropped by the
// transport, never propagated to callers.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed frame: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s frame: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
