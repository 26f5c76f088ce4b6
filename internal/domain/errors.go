package domain

import "errors"

var (
	// ErrNoSession is returned when an operation needs a live session and
	// none is held. Callers route this to re-authentication, not retry.
	ErrNoSession = errors.New("no active session")
	// ErrStorage wraps credential store write/read failures. Storage
	// failures are treated as unrecoverable for the session: fail loudly
	// rather than continue on stale data.
	ErrStorage = errors.New("credential storage failure")
	// ErrRefreshFailed marks a refresh round-trip that came back with a
	// network error or non-2xx status. Refresh failures are fatal to the
	// session; the store is cleared before this surfaces.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrMalformedRecord marks stored session data that failed to decode.
	// It is swallowed at the application boundary and treated as "no
	// session"; it must never crash the caller.
	ErrMalformedRecord = errors.New("malformed stored session record")
	// ErrRestoreRejected is returned when persisted session metadata does
	// not match the live client context (user id or user agent mismatch).
	ErrRestoreRejected = errors.New("session restore rejected")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotMonitoring   = errors.New("session is not being monitored")
)
