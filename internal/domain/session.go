package domain

import "time"

const (
	// ValidityBuffer is subtracted from the hard expiry when judging
	// validity, so callers stop trusting a token shortly before the
	// provider does.
	ValidityBuffer = 5 * time.Minute

	// RefreshBuffer opens the needs-refresh window before expiry.
	RefreshBuffer = 5 * time.Minute
)

// SessionRecord is the current token + identity + expiry tuple held for one
// monitored session. Records are replaced wholesale on refresh, never
// mutated field-by-field, and destroyed on logout, timeout, or
// anomaly-triggered invalidation.
type SessionRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenGrant is the payload the token endpoint returns on authentication or
// refresh. It is also the input to session establishment, so the external
// login flow and the refresh path feed the same record constructor.
type TokenGrant struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
}

// Record builds the session record for this grant, stamped at now.
func (g TokenGrant) Record(now time.Time) SessionRecord {
	return SessionRecord{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.ExpiresAt,
		Identity:     g.Identity,
		CreatedAt:    now,
	}
}

// IsValid reports whether the record can back requests at the given
// instant. A nil record, an empty access token, or an expiry closer than
// ValidityBuffer all fail. Pure; no I/O.
func IsValid(rec *SessionRecord, now time.Time) bool {
	if rec == nil || rec.AccessToken == "" {
		return false
	}
	return now.Before(rec.ExpiresAt.Add(-ValidityBuffer))
}

// NeedsRefresh reports whether now falls in the half-open refresh window
// [expiry-RefreshBuffer, expiry). A record past its hard expiry is not
// "needs refresh": it can only come back through the refresh-token path,
// which is a distinct contract.
func NeedsRefresh(rec *SessionRecord, now time.Time) bool {
	if rec == nil || rec.AccessToken == "" {
		return false
	}
	windowStart := rec.ExpiresAt.Add(-RefreshBuffer)
	return !now.Before(windowStart) && now.Before(rec.ExpiresAt)
}

// IsExpired reports whether the record is past its hard expiry.
func IsExpired(rec *SessionRecord, now time.Time) bool {
	if rec == nil || rec.AccessToken == "" {
		return true
	}
	return !now.Before(rec.ExpiresAt)
}
