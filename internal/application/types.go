package application

import (
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
)

// Defaults applied by normalized for any Config field left at its zero
// value. The durations and ceilings match the recognized configuration
// options and their documented defaults.
const (
	DefaultContextKey                  = "default"
	DefaultSessionTimeout              = 24 * time.Hour
	DefaultIdleTimeout                 = 30 * time.Minute
	DefaultSessionWarningTime          = 5 * time.Minute
	DefaultAutoRefreshLead             = time.Minute
	DefaultRefreshTimeout              = 10 * time.Second
	DefaultMaxRefreshAttempts          = 5
	DefaultSuspiciousActivityThreshold = 10.0
	DefaultMaxConcurrentSessions       = 3
	DefaultFailedOperationCeiling      = 10
)

type Config struct {
	// ContextKey namespaces every persisted artifact of this instance's
	// session. Instances sharing a key share one logical session.
	ContextKey string

	SessionTimeout     time.Duration
	IdleTimeout        time.Duration
	SessionWarningTime time.Duration
	// AutoRefreshLead is how far before the refresh window opens the
	// proactive refresh timer fires.
	AutoRefreshLead time.Duration
	// RefreshTimeout bounds the token-endpoint round trip for refreshes
	// not driven by a caller-supplied context.
	RefreshTimeout time.Duration

	MaxRefreshAttempts          int
	SuspiciousActivityThreshold float64
	MaxConcurrentSessions       int
	FailedOperationCeiling      int

	// InvalidateOnSuspicious escalates a positive anomaly detection to
	// session invalidation. Detection itself only flags.
	InvalidateOnSuspicious bool
}

func (c Config) normalized() Config {
	if c.ContextKey == "" {
		c.ContextKey = DefaultContextKey
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SessionWarningTime <= 0 {
		c.SessionWarningTime = DefaultSessionWarningTime
	}
	if c.AutoRefreshLead <= 0 {
		c.AutoRefreshLead = DefaultAutoRefreshLead
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.MaxRefreshAttempts <= 0 {
		c.MaxRefreshAttempts = DefaultMaxRefreshAttempts
	}
	if c.SuspiciousActivityThreshold <= 0 {
		c.SuspiciousActivityThreshold = DefaultSuspiciousActivityThreshold
	}
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if c.FailedOperationCeiling <= 0 {
		c.FailedOperationCeiling = DefaultFailedOperationCeiling
	}
	return c
}

// EstablishRequest carries the token grant produced by the external login
// flow plus the client context it happened in.
type EstablishRequest struct {
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time            `json:"expires_at"`
	Identity     domain.Identity      `json:"identity"`
	Client       domain.ClientContext `json:"client"`
}

// SessionStatus is the read-model answer for "what session is held right
// now". Identity and Activity are nil when no session is active.
type SessionStatus struct {
	Active       bool                  `json:"active"`
	Valid        bool                  `json:"valid"`
	NeedsRefresh bool                  `json:"needs_refresh"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	Identity     *domain.Identity      `json:"identity,omitempty"`
	Activity     *domain.ActivityState `json:"activity,omitempty"`
}

// AnomalyReport is the outcome of one suspicious-activity sweep.
type AnomalyReport struct {
	Suspicious  bool     `json:"suspicious"`
	Indicators  []string `json:"indicators,omitempty"`
	Invalidated bool     `json:"invalidated"`
}
