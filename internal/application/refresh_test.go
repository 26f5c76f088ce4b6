package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

type coordinatorHarness struct {
	credentials *CredentialStore
	coordinator *RefreshCoordinator
	refresher   *fakeRefresher
	clock       *fakeClock
	bus         *EventBus
	events      *eventRecorder
	records     *fakeRecordStore
	tokens      *fakeTokenStore
	metas       *fakeMetadataStore
	handshakes  *fakeHandshakeStore
}

func newCoordinatorHarness(cfg Config) *coordinatorHarness {
	stores := testStores()
	clock := newFakeClock(testStart)
	bus := NewEventBus()
	credentials := NewCredentialStore(cfg.ContextKey, stores)
	refresher := &fakeRefresher{}
	return &coordinatorHarness{
		credentials: credentials,
		coordinator: NewRefreshCoordinator(cfg, credentials, refresher, clock, bus),
		refresher:   refresher,
		clock:       clock,
		bus:         bus,
		events:      newEventRecorder(bus),
		records:     stores.Records.(*fakeRecordStore),
		tokens:      stores.RefreshTokens.(*fakeTokenStore),
		metas:       stores.Metadata.(*fakeMetadataStore),
		handshakes:  stores.Handshakes.(*fakeHandshakeStore),
	}
}

func testGrant(now time.Time) domain.TokenGrant {
	rec := testRecord(now, 2*time.Hour)
	return domain.TokenGrant{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    rec.ExpiresAt,
		Identity:     rec.Identity,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, time.Hour))

	release := make(chan struct{})
	h.refresher.mu.Lock()
	h.refresher.block = release
	h.refresher.grant = testGrant(testStart)
	h.refresher.mu.Unlock()

	const callers = 8
	results := make([]*domain.SessionRecord, callers)
	errs := make([]error, callers)
	var started, done sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			results[i], errs[i] = h.coordinator.Refresh(context.Background())
		}()
	}
	started.Wait()
	waitFor(t, "the flight to go outbound", func() bool { return h.refresher.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if got := h.refresher.callCount(); got != 1 {
		t.Fatalf("outbound refresh calls = %d, want exactly 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] == nil || results[i].AccessToken != "access-2" {
			t.Fatalf("caller %d record = %+v, want the shared refreshed record", i, results[i])
		}
	}
}

func TestRefreshUnavailableWithoutToken(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})

	rec, err := h.coordinator.Refresh(context.Background())
	if rec != nil || err != nil {
		t.Fatalf("refresh with no session = (%+v, %v), want (nil, nil)", rec, err)
	}

	held := testRecord(testStart, time.Hour)
	held.RefreshToken = ""
	mustStore(t, h.credentials, held)

	rec, err = h.coordinator.Refresh(context.Background())
	if rec != nil || err != nil {
		t.Fatalf("refresh without token = (%+v, %v), want (nil, nil)", rec, err)
	}
	if h.refresher.callCount() != 0 {
		t.Fatalf("outbound calls = %d, want none", h.refresher.callCount())
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, time.Hour))

	h.refresher.mu.Lock()
	h.refresher.err = fmt.Errorf("%w: token endpoint returned 401", domain.ErrRefreshFailed)
	h.refresher.mu.Unlock()

	var hookCalls atomic.Int32
	h.coordinator.setFailureHandler(func(error) { hookCalls.Add(1) })

	rec, err := h.coordinator.Refresh(context.Background())
	if rec != nil {
		t.Fatalf("record = %+v, want nil", rec)
	}
	if !errors.Is(err, domain.ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}
	if h.credentials.Get() != nil {
		t.Fatal("record still held after failed refresh")
	}
	if _, ok := h.records.stored(DefaultContextKey); ok {
		t.Fatal("record still persisted after failed refresh")
	}
	if h.tokens.stored(DefaultContextKey) != "" {
		t.Fatal("refresh token still persisted after failed refresh")
	}
	if got := hookCalls.Load(); got != 1 {
		t.Fatalf("failure hook calls = %d, want 1", got)
	}
}

func TestRefreshTimeoutStillClearsPersistedState(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{RefreshTimeout: 40 * time.Millisecond})
	mustStore(t, h.credentials, testRecord(testStart, time.Hour))
	if err := h.credentials.PutMetadata(context.Background(), domain.SessionMetadata{UserID: "u-100"}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	if err := h.handshakes.Put(context.Background(), DefaultContextKey, ports.HandshakeState{State: "s"}, time.Minute); err != nil {
		t.Fatalf("seed handshake: %v", err)
	}

	// Never released: the flight fails by exhausting its own deadline,
	// the way it does against a token endpoint that stops answering.
	// Teardown must not run on that exhausted deadline, or every store
	// delete fails and the artifacts outlive the session.
	h.refresher.mu.Lock()
	h.refresher.block = make(chan struct{})
	h.refresher.mu.Unlock()

	var hookCalls atomic.Int32
	h.coordinator.setFailureHandler(func(error) { hookCalls.Add(1) })

	rec, err := h.coordinator.Refresh(context.Background())
	if rec != nil {
		t.Fatalf("record = %+v, want nil", rec)
	}
	if !errors.Is(err, domain.ErrRefreshFailed) {
		t.Fatalf("err = %v, want ErrRefreshFailed", err)
	}

	if h.credentials.Get() != nil {
		t.Fatal("record still held after the timed-out refresh")
	}
	if _, ok := h.records.stored(DefaultContextKey); ok {
		t.Fatal("persisted record survived the timed-out refresh")
	}
	if h.tokens.stored(DefaultContextKey) != "" {
		t.Fatal("persisted refresh token survived the timed-out refresh")
	}
	if _, ok := h.metas.stored(DefaultContextKey); ok {
		t.Fatal("session metadata survived the timed-out refresh")
	}
	h.handshakes.mu.Lock()
	purges := h.handshakes.purges
	h.handshakes.mu.Unlock()
	if purges != 1 {
		t.Fatalf("handshake purges = %d, want 1", purges)
	}
	if got := hookCalls.Load(); got != 1 {
		t.Fatalf("failure hook calls = %d, want 1", got)
	}
}

func TestRefreshSuccessReplacesRecordWholesale(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, 10*time.Minute))
	h.refresher.mu.Lock()
	h.refresher.grant = testGrant(testStart)
	h.refresher.mu.Unlock()

	rec, err := h.coordinator.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec == nil || rec.AccessToken != "access-2" || rec.RefreshToken != "refresh-2" {
		t.Fatalf("record = %+v", rec)
	}
	if got := h.coordinator.RefreshAttempts(); got != 0 {
		t.Fatalf("attempts after success = %d, want 0", got)
	}
	if h.refresher.lastToken() != "refresh-1" {
		t.Fatalf("refresh called with token %q, want the stored one", h.refresher.lastToken())
	}

	persisted, ok := h.records.stored(DefaultContextKey)
	if !ok || persisted.AccessToken != "access-2" || persisted.RefreshToken != "" {
		t.Fatalf("persisted = %+v", persisted)
	}
	if h.tokens.stored(DefaultContextKey) != "refresh-2" {
		t.Fatalf("rotated token = %q, want refresh-2", h.tokens.stored(DefaultContextKey))
	}

	refreshed := h.events.ofKind(domain.EventSessionRefreshed)
	if len(refreshed) != 1 || refreshed[0].UserID != "u-100" {
		t.Fatalf("refreshed events = %+v", refreshed)
	}
	if h.clock.pending() == 0 {
		t.Fatal("no auto-refresh timer armed after success")
	}
}

func TestRefreshKeepsPriorSecretsWhenGrantOmitsThem(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, 10*time.Minute))
	h.refresher.mu.Lock()
	h.refresher.grant = domain.TokenGrant{
		AccessToken: "access-2",
		ExpiresAt:   testStart.Add(2 * time.Hour),
	}
	h.refresher.mu.Unlock()

	rec, err := h.coordinator.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token = %q, want the prior one kept", rec.RefreshToken)
	}
	if rec.Identity.ID != "u-100" {
		t.Fatalf("identity = %+v, want the prior one kept", rec.Identity)
	}
}

func TestStopFencesInFlightRefresh(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, time.Hour))

	release := make(chan struct{})
	h.refresher.mu.Lock()
	h.refresher.block = release
	h.refresher.grant = testGrant(testStart)
	h.refresher.mu.Unlock()

	type outcome struct {
		rec *domain.SessionRecord
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		rec, err := h.coordinator.Refresh(context.Background())
		got <- outcome{rec, err}
	}()
	waitFor(t, "the flight to go outbound", func() bool { return h.refresher.callCount() == 1 })

	h.coordinator.Stop()
	close(release)

	res := <-got
	if res.rec != nil || res.err != nil {
		t.Fatalf("stale flight result = (%+v, %v), want (nil, nil)", res.rec, res.err)
	}
	// The stale flight must not have stored its record.
	if held := h.credentials.Get(); held == nil || held.AccessToken != "access-1" {
		t.Fatalf("held record = %+v, want the pre-refresh one", held)
	}
	if got := h.coordinator.RefreshAttempts(); got != 0 {
		t.Fatalf("attempts after stop = %d, want 0", got)
	}
}

func TestScheduleAutoRefreshFiresAndRearms(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	mustStore(t, h.credentials, testRecord(testStart, 30*time.Minute))
	h.refresher.mu.Lock()
	h.refresher.grantFn = func() (domain.TokenGrant, error) {
		return testGrant(h.clock.Now()), nil
	}
	h.refresher.mu.Unlock()

	h.coordinator.ScheduleAutoRefresh()
	if got := h.clock.pending(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}
	// Re-arming replaces the armed timer instead of stacking a second one.
	h.coordinator.ScheduleAutoRefresh()
	if got := h.clock.pending(); got != 1 {
		t.Fatalf("pending timers after re-arm = %d, want 1", got)
	}

	// expiry 30m - refresh buffer 5m - lead 1m = 24m.
	h.clock.Advance(24 * time.Minute)
	if got := h.refresher.callCount(); got != 1 {
		t.Fatalf("outbound calls after first firing = %d, want 1", got)
	}
	if held := h.credentials.Get(); held == nil || held.AccessToken != "access-2" {
		t.Fatalf("held record = %+v, want refreshed", held)
	}
	if got := h.clock.pending(); got != 1 {
		t.Fatalf("pending timers after refresh = %d, want re-armed 1", got)
	}

	// The re-armed timer tracks the new expiry: 24m + 2h - 6m lead+buffer.
	h.clock.Advance(2 * time.Hour)
	if got := h.refresher.callCount(); got != 2 {
		t.Fatalf("outbound calls after second firing = %d, want 2", got)
	}
}

func TestScheduleAutoRefreshArmsNothingWithoutValidRecord(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(Config{})
	h.coordinator.ScheduleAutoRefresh()
	if got := h.clock.pending(); got != 0 {
		t.Fatalf("pending timers with no record = %d, want 0", got)
	}

	expired := testRecord(testStart.Add(-2*time.Hour), time.Hour)
	mustStore(t, h.credentials, expired)
	h.coordinator.ScheduleAutoRefresh()
	if got := h.clock.pending(); got != 0 {
		t.Fatalf("pending timers with expired record = %d, want 0", got)
	}
}

func TestCheckAndRefresh(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		seed      func(t *testing.T, h *coordinatorHarness)
		wantValid bool
		wantErr   error
		wantCalls int
	}{
		{
			name: "valid record needs no action",
			seed: func(t *testing.T, h *coordinatorHarness) {
				mustStore(t, h.credentials, testRecord(testStart, time.Hour))
			},
			wantValid: true,
			wantCalls: 0,
		},
		{
			name:      "no session",
			seed:      func(*testing.T, *coordinatorHarness) {},
			wantValid: false,
			wantCalls: 0,
		},
		{
			name: "inside refresh window refreshes",
			seed: func(t *testing.T, h *coordinatorHarness) {
				mustStore(t, h.credentials, testRecord(testStart, 3*time.Minute))
				h.refresher.mu.Lock()
				h.refresher.grant = testGrant(testStart)
				h.refresher.mu.Unlock()
			},
			wantValid: true,
			wantCalls: 1,
		},
		{
			name: "expired without token stays dark",
			seed: func(t *testing.T, h *coordinatorHarness) {
				rec := testRecord(testStart.Add(-2*time.Hour), time.Hour)
				rec.RefreshToken = ""
				mustStore(t, h.credentials, rec)
			},
			wantValid: false,
			wantCalls: 0,
		},
		{
			name: "expired with token renews",
			seed: func(t *testing.T, h *coordinatorHarness) {
				mustStore(t, h.credentials, testRecord(testStart.Add(-2*time.Hour), time.Hour))
				h.refresher.mu.Lock()
				h.refresher.grant = testGrant(testStart)
				h.refresher.mu.Unlock()
			},
			wantValid: true,
			wantCalls: 1,
		},
		{
			name: "renewal failure surfaces",
			seed: func(t *testing.T, h *coordinatorHarness) {
				mustStore(t, h.credentials, testRecord(testStart.Add(-2*time.Hour), time.Hour))
				h.refresher.mu.Lock()
				h.refresher.err = fmt.Errorf("%w: endpoint down", domain.ErrRefreshFailed)
				h.refresher.mu.Unlock()
			},
			wantValid: false,
			wantErr:   domain.ErrRefreshFailed,
			wantCalls: 1,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newCoordinatorHarness(Config{})
			tc.seed(t, h)

			valid, err := h.coordinator.CheckAndRefresh(context.Background())
			if valid != tc.wantValid {
				t.Fatalf("valid = %v, want %v", valid, tc.wantValid)
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got := h.refresher.callCount(); got != tc.wantCalls {
				t.Fatalf("outbound calls = %d, want %d", got, tc.wantCalls)
			}
		})
	}
}
