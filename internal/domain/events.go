package domain

import "time"

// EventKind names the session lifecycle notifications consumed by the outer
// layer. The component itself never redirects or renders; it only emits.
type EventKind string

const (
	EventSessionEstablished EventKind = "SESSION_ESTABLISHED"
	EventSessionRefreshed   EventKind = "SESSION_REFRESHED"
	EventSessionTimeout     EventKind = "SESSION_TIMEOUT"
	EventIdleTimeout        EventKind = "IDLE_TIMEOUT"
	EventSessionWarning     EventKind = "SESSION_WARNING"
	EventSuspiciousActivity EventKind = "SUSPICIOUS_ACTIVITY"
	EventSessionRestored    EventKind = "SESSION_RESTORED"
	EventSessionInvalidated EventKind = "SESSION_INVALIDATED"
)

// Kinds returns every event kind, in a stable order. Observers that mirror
// the full stream subscribe to each of these.
func Kinds() []EventKind {
	return []EventKind{
		EventSessionEstablished,
		EventSessionRefreshed,
		EventSessionTimeout,
		EventIdleTimeout,
		EventSessionWarning,
		EventSuspiciousActivity,
		EventSessionRestored,
		EventSessionInvalidated,
	}
}

// Invalidation reasons carried by EventSessionInvalidated.
const (
	ReasonSessionTimeout     = "session_timeout"
	ReasonIdleTimeout        = "idle_timeout"
	ReasonSuspiciousActivity = "suspicious_activity"
	ReasonRefreshFailed      = "refresh_failed"
	ReasonStorageFailure     = "storage_failure"
)

// Event is one emitted notification. Only the fields relevant to the kind
// are populated: TimeRemaining for warnings, Indicators for suspicious
// activity, Reason for invalidations.
type Event struct {
	Kind          EventKind     `json:"kind"`
	At            time.Time     `json:"at"`
	Reason        string        `json:"reason,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
	Indicators    []string      `json:"indicators,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
}
