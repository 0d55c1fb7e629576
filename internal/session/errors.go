package session

import "errors"

// Error kinds per §7. UnknownDocument and MalformedFrame are surfaced at
// the transport layer (they never reach a DocumentSession); the kinds
// below are the ones DocumentSession itself can produce.
var (
	// ErrUnknownClient is returned when an operation names a client not
	// present in the session's roster.
	ErrUnknownClient = errors.New("session: unknown client")

	// ErrRopeFailure wraps an internal rope error that should never
	// escape Apply once position clamping has run; surfaced only as a
	// defensive guard.
	ErrRopeFailure = errors.New("session: rope apply failed")
)
