package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// refreshFlightKey is the singleflight key. The coordinator manages one
// logical session, so a single key collapses every concurrent caller.
const refreshFlightKey = "refresh"

// RefreshCoordinator performs the token refresh protocol: at most one
// outbound refresh call per session at any time, with every concurrent
// caller observing the in-flight call's outcome. It also owns the
// proactive refresh timer and the refresh-attempt counter the anomaly
// detector reads.
type RefreshCoordinator struct {
	credentials *CredentialStore
	refresher   ports.TokenRefresher
	clock       ports.Clock
	bus         *EventBus
	cfg         Config

	group singleflight.Group

	mu       sync.Mutex
	gen      uint64
	attempts int
	timer    ports.Timer

	// onFailure is invoked once per failed flight, after the session has
	// been cleared. The composition layer points it at invalidation.
	onFailure func(err error)
}

func NewRefreshCoordinator(cfg Config, credentials *CredentialStore, refresher ports.TokenRefresher, clock ports.Clock, bus *EventBus) *RefreshCoordinator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &RefreshCoordinator{
		cfg:         cfg.normalized(),
		credentials: credentials,
		refresher:   refresher,
		clock:       clock,
		bus:         bus,
	}
}

// Refresh renews the session through the refresh-token path.
//
// No refresh token held: (nil, nil) with no network call; refresh is
// unavailable, not failed. Concurrent callers share one outbound request.
// On success the new record has been stored wholesale and the attempt
// counter reset. On failure the session has been cleared entirely and the
// error wraps domain.ErrRefreshFailed; a refresh failure is fatal to the
// session, it cannot self-heal.
//
// Cancelling ctx abandons the wait without aborting the shared flight.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (*domain.SessionRecord, error) {
	current := c.credentials.Get()
	if current == nil || current.RefreshToken == "" {
		return nil, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ch := c.group.DoChan(refreshFlightKey, func() (any, error) {
		return c.doRefresh(gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec := res.Val.(domain.SessionRecord)
		if rec.AccessToken == "" {
			// The flight went stale: the session was torn down while the
			// call was outbound. Refresh is unavailable, not failed.
			return nil, nil
		}
		return &rec, nil
	}
}

// doRefresh is the body of the single flight. It runs detached from any
// caller context; the round trip is bounded by the configured timeout.
// The refresh token is read at flight start, not captured at call time, so
// a flight never replays a token that was just rotated.
func (c *RefreshCoordinator) doRefresh(gen uint64) (any, error) {
	current := c.credentials.Get()
	if current == nil || current.RefreshToken == "" {
		return domain.SessionRecord{}, nil
	}
	refreshToken := current.RefreshToken

	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()

	grant, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, c.failFlight(gen, fmt.Errorf("refresh session: %w", err))
	}
	if grant.AccessToken == "" {
		return nil, c.failFlight(gen, fmt.Errorf("%w: grant without access token", domain.ErrRefreshFailed))
	}
	// Providers may omit the rotated refresh token or the user payload;
	// keep the current values so the session stays renewable and bound.
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	if grant.Identity.ID == "" {
		grant.Identity = current.Identity
	}

	now := c.clock.Now()
	rec := grant.Record(now)

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		// The session was torn down while this flight was outbound. Do
		// not resurrect it.
		return domain.SessionRecord{}, nil
	}

	if err := c.credentials.Store(ctx, rec); err != nil {
		return nil, c.failFlight(gen, fmt.Errorf("store refreshed session: %w", err))
	}

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(ctx, domain.Event{
			Kind:   domain.EventSessionRefreshed,
			At:     now,
			UserID: rec.Identity.ID,
		})
	}
	c.ScheduleAutoRefresh()
	return rec, nil
}

// failFlight runs the fatal-failure path: clear the whole session, notify
// the failure hook, and surface the error to every waiting caller. A
// flight made stale by Stop skips the teardown; the session it was
// refreshing is already gone. Teardown gets a deadline of its own; a
// flight that failed by timing out has an already expired context, and
// the clears must still reach the stores.
func (c *RefreshCoordinator) failFlight(gen uint64, cause error) error {
	c.mu.Lock()
	stale := gen != c.gen
	onFailure := c.onFailure
	c.mu.Unlock()
	if stale {
		return cause
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()

	slog.Default().ErrorContext(ctx, "session refresh failed",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "refresh_session",
		"outcome", "failure",
		"error", cause,
	)
	if err := c.credentials.Clear(ctx); err != nil {
		slog.Default().WarnContext(ctx, "clear after failed refresh incomplete",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "refresh_session",
			"outcome", "warning",
			"error", err,
		)
	}
	if onFailure != nil {
		onFailure(cause)
	}
	return cause
}

// ScheduleAutoRefresh arms the proactive refresh timer to fire shortly
// before the refresh window opens. Re-arming replaces any armed timer; if
// no valid record is held, nothing is armed.
func (c *RefreshCoordinator) ScheduleAutoRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	rec := c.credentials.Get()
	now := c.clock.Now()
	if !domain.IsValid(rec, now) {
		return
	}

	fireAt := rec.ExpiresAt.Add(-domain.RefreshBuffer).Add(-c.cfg.AutoRefreshLead)
	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() {
		c.autoRefresh(gen)
	})
}

func (c *RefreshCoordinator) autoRefresh(gen uint64) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()
	if _, err := c.Refresh(ctx); err != nil {
		// Teardown and notification already happened on the flight.
		slog.Default().WarnContext(ctx, "scheduled refresh failed",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "auto_refresh",
			"outcome", "failure",
			"error", err,
		)
	}
}

// CheckAndRefresh reports whether a valid session is held, refreshing
// first when the record is inside the refresh window or renewable through
// the refresh-token path. An expired record without a refresh token
// reports false with no network call.
func (c *RefreshCoordinator) CheckAndRefresh(ctx context.Context) (bool, error) {
	rec := c.credentials.Get()
	if domain.IsValid(rec, c.clock.Now()) {
		return true, nil
	}
	if rec == nil || rec.RefreshToken == "" {
		return false, nil
	}
	refreshed, err := c.Refresh(ctx)
	if err != nil {
		return false, err
	}
	return domain.IsValid(refreshed, c.clock.Now()), nil
}

// RefreshAttempts returns the count of refresh attempts since the last
// success. The anomaly detector reads this.
func (c *RefreshCoordinator) RefreshAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Stop cancels the armed timer and fences off in-flight work: a flight
// completing after Stop neither stores its record nor triggers teardown.
// The coordinator is reusable; the next establish re-arms it.
func (c *RefreshCoordinator) Stop() {
	c.mu.Lock()
	c.gen++
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.group.Forget(refreshFlightKey)
}

// setFailureHandler wires the fatal-failure hook. Called once at assembly.
func (c *RefreshCoordinator) setFailureHandler(fn func(err error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}
