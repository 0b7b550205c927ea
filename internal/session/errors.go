package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound means no host was reachable at the given room code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrJoinTimeout means the host never answered the join request within
	// the configured window. Distinct from an explicit rejection.
	ErrJoinTimeout = errors.New("join timed out")

	// ErrNotOpen is returned for operations that require the room to be in
	// a specific phase, e.g. starting a game twice.
	ErrNotOpen = errors.New("room is not open")

	// ErrNoSavedSession is returned by Resume when no usable reconnection
	// record exists.
	ErrNoSavedSession = errors.New("no saved session")

	// ErrSessionClosed is returned when an operation is attempted against a
	// session manager that has already shut down.
	ErrSessionClosed = errors.New("session closed")
)

// RejectedError is an explicit, reasoned refusal from the host
// (JOIN_REJECTED / REJOIN_REJECTED). The reason is surfaced verbatim.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by host: %s", e.Reason)
}
