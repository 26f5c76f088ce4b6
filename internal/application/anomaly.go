package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/veltrix/sessiongate/internal/ports"
)

// Indicator names reported by DetectSuspiciousActivity.
const (
	IndicatorRefreshAttempts    = "refresh_attempts_exceeded"
	IndicatorActivityRate       = "abnormal_activity_rate"
	IndicatorSessionAge         = "session_age_exceeded"
	IndicatorFailedOperations   = "failed_operations_exceeded"
	IndicatorConcurrentSessions = "concurrent_sessions_exceeded"
)

// AnomalyDetector evaluates the abuse heuristics over activity state,
// coordinator counters, and the fingerprint registry. It flags and
// reports; it never invalidates. Escalation is the caller's decision.
type AnomalyDetector struct {
	cfg          Config
	credentials  *CredentialStore
	monitor      *ActivityMonitor
	coordinator  *RefreshCoordinator
	fingerprints ports.FingerprintStore
	clock        ports.Clock
}

func NewAnomalyDetector(cfg Config, credentials *CredentialStore, monitor *ActivityMonitor, coordinator *RefreshCoordinator, fingerprints ports.FingerprintStore, clock ports.Clock) *AnomalyDetector {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &AnomalyDetector{
		cfg:          cfg.normalized(),
		credentials:  credentials,
		monitor:      monitor,
		coordinator:  coordinator,
		fingerprints: fingerprints,
		clock:        clock,
	}
}

// DetectSuspiciousActivity reports whether any heuristic fired, and which.
// All comparisons are strict: a session exactly at a ceiling is not yet
// suspicious. Heuristics, any-of:
//
//   - refresh attempts since last success beyond the configured ceiling
//   - activity rate (count per elapsed second) beyond the threshold; a
//     deliberately coarse bot signal
//   - session age beyond the absolute timeout, independent of the timer
//   - failed operations beyond the configured ceiling
//   - live fingerprints for the user beyond the concurrent-session limit,
//     after pruning entries older than the absolute timeout
//
// Returns (false, nil) when no session is monitored.
func (d *AnomalyDetector) DetectSuspiciousActivity(ctx context.Context) (bool, []string) {
	state, monitoring := d.monitor.Snapshot()
	if !monitoring {
		return false, nil
	}
	state.RefreshAttempts = d.coordinator.RefreshAttempts()

	now := d.clock.Now()
	var indicators []string
	if state.RefreshAttempts > d.cfg.MaxRefreshAttempts {
		indicators = append(indicators, IndicatorRefreshAttempts)
	}
	if state.ActivityRate(now) > d.cfg.SuspiciousActivityThreshold {
		indicators = append(indicators, IndicatorActivityRate)
	}
	if state.SessionAge(now) > d.cfg.SessionTimeout {
		indicators = append(indicators, IndicatorSessionAge)
	}
	if state.FailedOperations > d.cfg.FailedOperationCeiling {
		indicators = append(indicators, IndicatorFailedOperations)
	}
	if n, ok := d.liveFingerprints(ctx, now); ok && n > d.cfg.MaxConcurrentSessions {
		indicators = append(indicators, IndicatorConcurrentSessions)
	}
	return len(indicators) > 0, indicators
}

// liveFingerprints prunes registry entries older than the absolute timeout
// and counts what remains, so stale fingerprints never cause a false
// positive. Registry trouble disables only this heuristic.
func (d *AnomalyDetector) liveFingerprints(ctx context.Context, now time.Time) (int, bool) {
	if d.fingerprints == nil {
		return 0, false
	}
	rec := d.credentials.Get()
	if rec == nil || rec.Identity.ID == "" {
		return 0, false
	}

	cutoff := now.Add(-d.cfg.SessionTimeout)
	if err := d.fingerprints.Prune(ctx, rec.Identity.ID, cutoff); err != nil {
		slog.Default().WarnContext(ctx, "fingerprint prune failed",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "detect_suspicious_activity",
			"outcome", "warning",
			"user_id", rec.Identity.ID,
			"error", err,
		)
	}
	live, err := d.fingerprints.ActiveSince(ctx, rec.Identity.ID, cutoff)
	if err != nil {
		slog.Default().WarnContext(ctx, "fingerprint registry unavailable",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "detect_suspicious_activity",
			"outcome", "warning",
			"user_id", rec.Identity.ID,
			"error", err,
		)
		return 0, false
	}
	return len(live), true
}
