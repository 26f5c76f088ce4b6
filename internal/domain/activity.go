package domain

import "time"

// ActivityState is the per-session liveness envelope driving idle timeout,
// warning, and anomaly heuristics. The monitor owns it exclusively; the
// anomaly detector only reads snapshots. Lifecycle matches the session
// record: created when monitoring starts, discarded when it stops.
type ActivityState struct {
	LastActivity     time.Time `json:"last_activity"`
	ActivityCount    int64     `json:"activity_count"`
	SessionStart     time.Time `json:"session_start"`
	RefreshAttempts  int       `json:"refresh_attempts"`
	FailedOperations int       `json:"failed_operations"`
	WarningShown     bool      `json:"warning_shown"`
}

// ActivityRate returns observed activity events per second since the
// session started. Zero elapsed time reports a zero rate rather than
// dividing by zero on the first event.
func (s ActivityState) ActivityRate(now time.Time) float64 {
	elapsed := now.Sub(s.SessionStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.ActivityCount) / elapsed
}

// SessionAge returns how long the session has been alive.
func (s ActivityState) SessionAge(now time.Time) time.Duration {
	return now.Sub(s.SessionStart)
}

// SessionMetadata is persisted alongside the record so a restored session
// can be checked against the live client context. Restore is rejected when
// the user id or user agent does not match.
type SessionMetadata struct {
	UserID      string    `json:"user_id"`
	UserAgent   string    `json:"user_agent"`
	Fingerprint string    `json:"fingerprint"`
	StoredAt    time.Time `json:"stored_at"`
}

// ClientContext describes the calling client environment for establish and
// restore. It is the reduced analog of the original browser context.
type ClientContext struct {
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Fingerprint is one recorded approximation of a concurrent session.
type Fingerprint struct {
	Value  string    `json:"value"`
	SeenAt time.Time `json:"seen_at"`
}
