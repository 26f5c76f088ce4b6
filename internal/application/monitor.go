package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// ActivityMonitor drives the per-session timeout state machine: Inactive →
// Monitoring → invalidated, terminal per session generation. It owns
// ActivityState exclusively and arms three independent one-shot timers:
// absolute timeout, idle timeout (re-armed on every activity), and a
// single pre-expiry warning. Timer callbacks are fenced by a generation
// counter so nothing fires on behalf of a session that was stopped.
//
// The monitor never renders or redirects; timeouts clear the credential
// store and emit events, and the outer layer decides what happens next.
type ActivityMonitor struct {
	cfg         Config
	credentials *CredentialStore
	bus         *EventBus
	broadcaster ports.ActivityBroadcaster
	clock       ports.Clock
	contextKey  string

	mu       sync.Mutex
	gen      uint64
	state    *domain.ActivityState
	identity domain.Identity
	absolute ports.Timer
	idle     ports.Timer
	warning  ports.Timer
	sub      ports.ActivitySubscription
}

func NewActivityMonitor(cfg Config, credentials *CredentialStore, bus *EventBus, broadcaster ports.ActivityBroadcaster, clock ports.Clock) *ActivityMonitor {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	cfg = cfg.normalized()
	return &ActivityMonitor{
		cfg:         cfg,
		credentials: credentials,
		bus:         bus,
		broadcaster: broadcaster,
		clock:       clock,
		contextKey:  cfg.ContextKey,
	}
}

// StartMonitoring enters the Monitoring state for the identity: a fresh
// ActivityState, all three timers armed, and a best-effort subscription to
// sibling activity. Calling it while already monitoring restarts cleanly.
func (m *ActivityMonitor) StartMonitoring(ctx context.Context, identity domain.Identity) {
	m.mu.Lock()
	prev := m.detachLocked()
	gen := m.gen
	now := m.clock.Now()
	m.identity = identity
	m.state = &domain.ActivityState{
		LastActivity: now,
		SessionStart: now,
	}
	m.absolute = m.clock.AfterFunc(m.cfg.SessionTimeout, func() {
		m.fireTimeout(gen, domain.EventSessionTimeout, domain.ReasonSessionTimeout)
	})
	m.idle = m.clock.AfterFunc(m.cfg.IdleTimeout, func() {
		m.fireTimeout(gen, domain.EventIdleTimeout, domain.ReasonIdleTimeout)
	})
	if warnIn := m.cfg.SessionTimeout - m.cfg.SessionWarningTime; warnIn > 0 {
		m.warning = m.clock.AfterFunc(warnIn, func() { m.fireWarning(gen) })
	}
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	m.subscribeSiblings(ctx, gen)
}

// UpdateActivity records user activity: bumps the counter and timestamp,
// re-arms the idle timer, and announces the timestamp so siblings sharing
// the context key can extend their own idle clocks.
func (m *ActivityMonitor) UpdateActivity(ctx context.Context) error {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return domain.ErrNotMonitoring
	}
	now := m.clock.Now()
	m.state.LastActivity = now
	m.state.ActivityCount++
	m.rearmIdleLocked(m.cfg.IdleTimeout)
	m.mu.Unlock()

	if m.broadcaster != nil {
		if err := m.broadcaster.Announce(ctx, m.contextKey, now); err != nil {
			slog.Default().WarnContext(ctx, "activity announce failed",
				"service", "sessiongate",
				"module", "application",
				"layer", "application",
				"operation", "update_activity",
				"outcome", "warning",
				"context_key", m.contextKey,
				"error", err,
			)
		}
	}
	return nil
}

// RecordFailedOperation bumps the failed-operation counter read by the
// anomaly detector. A no-op when not monitoring.
func (m *ActivityMonitor) RecordFailedOperation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return
	}
	m.state.FailedOperations++
}

// Snapshot returns a copy of the activity state and whether a session is
// being monitored.
func (m *ActivityMonitor) Snapshot() (domain.ActivityState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.ActivityState{}, false
	}
	return *m.state, true
}

// StopMonitoring cancels all timers and discards activity state.
// Idempotent; after it returns no timer callback for the stopped session
// takes effect.
func (m *ActivityMonitor) StopMonitoring() {
	m.mu.Lock()
	sub := m.detachLocked()
	m.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// InvalidateSession tears the session down for the given reason: clears
// the credential store, stops monitoring, and emits
// SESSION_INVALIDATED(reason).
func (m *ActivityMonitor) InvalidateSession(ctx context.Context, reason string) {
	m.invalidate(ctx, nil, "", reason)
}

// fireTimeout is the timer callback for both timeout kinds. The specific
// event is emitted before the invalidation event.
func (m *ActivityMonitor) fireTimeout(gen uint64, specific domain.EventKind, reason string) {
	m.invalidate(context.Background(), &gen, specific, reason)
}

func (m *ActivityMonitor) invalidate(ctx context.Context, gen *uint64, specific domain.EventKind, reason string) {
	m.mu.Lock()
	if gen != nil && (*gen != m.gen || m.state == nil) {
		m.mu.Unlock()
		return
	}
	userID := m.identity.ID
	sub := m.detachLocked()
	m.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}

	now := m.clock.Now()
	if err := m.credentials.Clear(ctx); err != nil {
		slog.Default().WarnContext(ctx, "session clear incomplete during invalidation",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "invalidate_session",
			"outcome", "warning",
			"reason", reason,
			"error", err,
		)
	}
	if specific != "" {
		m.bus.Publish(ctx, domain.Event{Kind: specific, At: now, UserID: userID})
	}
	m.bus.Publish(ctx, domain.Event{
		Kind:   domain.EventSessionInvalidated,
		At:     now,
		Reason: reason,
		UserID: userID,
	})
	slog.Default().InfoContext(ctx, "session invalidated",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "invalidate_session",
		"outcome", "success",
		"reason", reason,
		"user_id", userID,
	)
}

func (m *ActivityMonitor) fireWarning(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state == nil || m.state.WarningShown {
		m.mu.Unlock()
		return
	}
	m.state.WarningShown = true
	deadline := m.state.SessionStart.Add(m.cfg.SessionTimeout)
	userID := m.identity.ID
	m.mu.Unlock()

	ctx := context.Background()
	now := m.clock.Now()
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	m.bus.Publish(ctx, domain.Event{
		Kind:          domain.EventSessionWarning,
		At:            now,
		TimeRemaining: remaining,
		UserID:        userID,
	})
}

// onSiblingActivity applies an activity timestamp announced by another
// holder of the same context key. Only newer timestamps extend the idle
// clock; the local counter is untouched, sibling activity is not ours.
func (m *ActivityMonitor) onSiblingActivity(gen uint64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state == nil {
		return
	}
	if !at.After(m.state.LastActivity) {
		return
	}
	m.state.LastActivity = at
	d := at.Add(m.cfg.IdleTimeout).Sub(m.clock.Now())
	if d < 0 {
		d = 0
	}
	m.rearmIdleLocked(d)
}

func (m *ActivityMonitor) rearmIdleLocked(d time.Duration) {
	if m.idle != nil {
		m.idle.Stop()
	}
	gen := m.gen
	m.idle = m.clock.AfterFunc(d, func() {
		m.fireTimeout(gen, domain.EventIdleTimeout, domain.ReasonIdleTimeout)
	})
}

// detachLocked advances the generation, cancels timers, and discards
// state. The caller closes the returned subscription outside the lock.
func (m *ActivityMonitor) detachLocked() ports.ActivitySubscription {
	m.gen++
	for _, t := range []ports.Timer{m.absolute, m.idle, m.warning} {
		if t != nil {
			t.Stop()
		}
	}
	m.absolute, m.idle, m.warning = nil, nil, nil
	m.state = nil
	m.identity = domain.Identity{}
	sub := m.sub
	m.sub = nil
	return sub
}

func (m *ActivityMonitor) subscribeSiblings(ctx context.Context, gen uint64) {
	if m.broadcaster == nil {
		return
	}
	sub, err := m.broadcaster.Subscribe(ctx, m.contextKey, func(at time.Time) {
		m.onSiblingActivity(gen, at)
	})
	if err != nil {
		slog.Default().WarnContext(ctx, "activity sync unavailable, monitoring unsynced",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "start_monitoring",
			"outcome", "warning",
			"context_key", m.contextKey,
			"error", err,
		)
		return
	}
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = sub.Close()
		return
	}
	m.sub = sub
	m.mu.Unlock()
}
