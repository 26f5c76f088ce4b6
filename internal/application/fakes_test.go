package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// fakeClock is a deterministic ports.Clock. Advance moves time forward and
// fires due timers in chronological order on the caller's goroutine, with
// the clock lock released, so callbacks may read the clock and arm new
// timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, fireAt: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		due := c.claimNextDue(target)
		if due == nil {
			break
		}
		due.fn()
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// claimNextDue picks the earliest unfired timer due by target, marks it
// fired, and moves the clock to its instant.
func (c *fakeClock) claimNextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due *fakeTimer
	for _, t := range c.timers {
		if t.fired || t.stopped || t.fireAt.After(target) {
			continue
		}
		if due == nil || t.fireAt.Before(due.fireAt) {
			due = t
		}
	}
	if due != nil {
		due.fired = true
		if due.fireAt.After(c.now) {
			c.now = due.fireAt
		}
	}
	return due
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// The store fakes honor ctx the way the redis adapters do: an expired
// context fails the call before it touches state.
type fakeRecordStore struct {
	mu        sync.Mutex
	recs      map[string]domain.SessionRecord
	putErr    error
	getErr    error
	delErr    error
	deletes   int
	malformed bool
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{recs: make(map[string]domain.SessionRecord)}
}

func (s *fakeRecordStore) Put(ctx context.Context, key string, rec domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.recs[key] = rec
	return nil
}

func (s *fakeRecordStore) Get(ctx context.Context, key string) (*domain.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.malformed {
		return nil, domain.ErrMalformedRecord
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.recs[key]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.recs, key)
	return nil
}

func (s *fakeRecordStore) stored(key string) (domain.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	return rec, ok
}

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
	putErr error
	getErr error
	delErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]string)}
}

func (s *fakeTokenStore) Put(ctx context.Context, key, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.tokens[key] = token
	return nil
}

func (s *fakeTokenStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.tokens[key], nil
}

func (s *fakeTokenStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.tokens, key)
	return nil
}

func (s *fakeTokenStore) stored(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[key]
}

type fakeMetadataStore struct {
	mu     sync.Mutex
	metas  map[string]domain.SessionMetadata
	putErr error
	getErr error
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{metas: make(map[string]domain.SessionMetadata)}
}

func (s *fakeMetadataStore) Put(ctx context.Context, key string, meta domain.SessionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.metas[key] = meta
	return nil
}

func (s *fakeMetadataStore) Get(ctx context.Context, key string) (*domain.SessionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	meta, ok := s.metas[key]
	if !ok {
		return nil, nil
	}
	cp := meta
	return &cp, nil
}

func (s *fakeMetadataStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metas, key)
	return nil
}

func (s *fakeMetadataStore) stored(key string) (domain.SessionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[key]
	return meta, ok
}

type fakeHandshakeStore struct {
	mu     sync.Mutex
	states map[string]ports.HandshakeState
	purges int
}

func newFakeHandshakeStore() *fakeHandshakeStore {
	return &fakeHandshakeStore{states: make(map[string]ports.HandshakeState)}
}

func (s *fakeHandshakeStore) Put(ctx context.Context, key string, hs ports.HandshakeState, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = hs
	return nil
}

func (s *fakeHandshakeStore) Get(ctx context.Context, key string) (*ports.HandshakeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	cp := hs
	return &cp, nil
}

func (s *fakeHandshakeStore) Purge(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	delete(s.states, key)
	return nil
}

type fakeFingerprintStore struct {
	mu        sync.Mutex
	prints    map[string][]domain.Fingerprint
	recordErr error
	activeErr error
	pruneErr  error
}

func newFakeFingerprintStore() *fakeFingerprintStore {
	return &fakeFingerprintStore{prints: make(map[string][]domain.Fingerprint)}
}

func (s *fakeFingerprintStore) Record(ctx context.Context, userID string, fp domain.Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.prints[userID] = append(s.prints[userID], fp)
	return nil
}

func (s *fakeFingerprintStore) ActiveSince(ctx context.Context, userID string, since time.Time) ([]domain.Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	var live []domain.Fingerprint
	for _, fp := range s.prints[userID] {
		if !fp.SeenAt.Before(since) {
			live = append(live, fp)
		}
	}
	return live, nil
}

func (s *fakeFingerprintStore) Prune(ctx context.Context, userID string, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pruneErr != nil {
		return s.pruneErr
	}
	var kept []domain.Fingerprint
	for _, fp := range s.prints[userID] {
		if !fp.SeenAt.Before(before) {
			kept = append(kept, fp)
		}
	}
	s.prints[userID] = kept
	return nil
}

func (s *fakeFingerprintStore) Clear(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prints, userID)
	return nil
}

func (s *fakeFingerprintStore) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prints[userID])
}

// fakeRefresher counts calls and can hold every call open until released,
// which is how the single-flight property is exercised. grantFn, when set,
// produces the grant at call time so expiries track the fake clock.
type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	last    string
	grant   domain.TokenGrant
	grantFn func() (domain.TokenGrant, error)
	err     error
	block   chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	f.mu.Lock()
	f.calls++
	f.last = refreshToken
	block := f.block
	grantFn := f.grantFn
	grant, err := f.grant, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			// Mirror the real token client, which wraps the round-trip
			// error whatever its cause.
			return domain.TokenGrant{}, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, ctx.Err())
		}
	}
	if grantFn != nil {
		return grantFn()
	}
	return grant, err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRefresher) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeSubscription struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeBroadcaster records announcements and hands the test a way to
// deliver sibling activity into the subscribed callback.
type fakeBroadcaster struct {
	mu         sync.Mutex
	announced  []time.Time
	onActivity func(at time.Time)
	sub        *fakeSubscription
	subErr     error
}

func (b *fakeBroadcaster) Announce(_ context.Context, _ string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.announced = append(b.announced, at)
	return nil
}

func (b *fakeBroadcaster) Subscribe(_ context.Context, _ string, onActivity func(at time.Time)) (ports.ActivitySubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	b.onActivity = onActivity
	b.sub = &fakeSubscription{}
	return b.sub, nil
}

func (b *fakeBroadcaster) deliver(at time.Time) {
	b.mu.Lock()
	fn := b.onActivity
	b.mu.Unlock()
	if fn != nil {
		fn(at)
	}
}

func (b *fakeBroadcaster) announceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.announced)
}

type fakeIdentityParser struct {
	identity domain.Identity
	err      error
}

func (p *fakeIdentityParser) ParseIdentity(string) (domain.Identity, error) {
	return p.identity, p.err
}

// eventRecorder subscribes to every event kind and keeps what it saw.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func newEventRecorder(bus *EventBus) *eventRecorder {
	r := &eventRecorder{}
	for _, kind := range domain.Kinds() {
		bus.Subscribe(kind, func(_ context.Context, evt domain.Event) {
			r.mu.Lock()
			r.events = append(r.events, evt)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *eventRecorder) ofKind(kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, evt := range r.all() {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testStores() CredentialStores {
	return CredentialStores{
		Records:       newFakeRecordStore(),
		RefreshTokens: newFakeTokenStore(),
		Metadata:      newFakeMetadataStore(),
		Handshakes:    newFakeHandshakeStore(),
	}
}

func testRecord(now time.Time, ttl time.Duration) domain.SessionRecord {
	return domain.SessionRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(ttl),
		Identity: domain.Identity{
			ID:    "u-100",
			Email: "dana@acme.io",
			Name:  "Dana",
			Attributes: domain.AttributeBag{
				Domain: "acme.io",
				Roles:  []string{"developer"},
			},
		},
		CreatedAt: now,
	}
}

func mustStore(t *testing.T, credentials *CredentialStore, rec domain.SessionRecord) {
	t.Helper()
	if err := credentials.Store(context.Background(), rec); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}
