package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veltrix/sessiongate/internal/authz"
	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// Service is the session lifecycle facade: one instance per monitored
// context, composing the credential store, refresh coordinator, activity
// monitor, anomaly detector, and access decision engine behind the
// operations the transport layer exposes.
type Service struct {
	cfg          Config
	credentials  *CredentialStore
	coordinator  *RefreshCoordinator
	monitor      *ActivityMonitor
	detector     *AnomalyDetector
	authorizer   *authz.Engine
	parser       ports.IdentityParser
	fingerprints ports.FingerprintStore
	bus          *EventBus
	clock        ports.Clock
}

type Dependencies struct {
	Config        Config
	Records       ports.SessionRecordStore
	RefreshTokens ports.RefreshTokenStore
	Metadata      ports.SessionMetadataStore
	Handshakes    ports.HandshakeStore
	Fingerprints  ports.FingerprintStore
	Refresher     ports.TokenRefresher
	Broadcaster   ports.ActivityBroadcaster
	Parser        ports.IdentityParser
	Authorizer    *authz.Engine
	Bus           *EventBus
	Clock         ports.Clock
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config.normalized()
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	bus := deps.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	authorizer := deps.Authorizer
	if authorizer == nil {
		// An empty policy set denies everything, which is the right
		// default for a misassembled instance.
		authorizer = authz.NewEngine(authz.PolicySet{})
	}

	credentials := NewCredentialStore(cfg.ContextKey, CredentialStores{
		Records:       deps.Records,
		RefreshTokens: deps.RefreshTokens,
		Metadata:      deps.Metadata,
		Handshakes:    deps.Handshakes,
	})
	coordinator := NewRefreshCoordinator(cfg, credentials, deps.Refresher, clock, bus)
	monitor := NewActivityMonitor(cfg, credentials, bus, deps.Broadcaster, clock)
	detector := NewAnomalyDetector(cfg, credentials, monitor, coordinator, deps.Fingerprints, clock)

	// A failed refresh has already torn the credentials down; routing the
	// rest of the teardown through the monitor emits SESSION_INVALIDATED
	// and stops the timers.
	coordinator.setFailureHandler(func(error) {
		monitor.InvalidateSession(context.Background(), domain.ReasonRefreshFailed)
	})

	return &Service{
		cfg:          cfg,
		credentials:  credentials,
		coordinator:  coordinator,
		monitor:      monitor,
		detector:     detector,
		authorizer:   authorizer,
		parser:       deps.Parser,
		fingerprints: deps.Fingerprints,
		bus:          bus,
		clock:        clock,
	}
}

// Events returns the lifecycle event bus so the composition layer can
// attach observers.
func (s *Service) Events() *EventBus { return s.bus }

// Establish turns a token grant from the external login flow into the
// monitored session: the record is stored, restore metadata and a session
// fingerprint are written, monitoring starts, and the proactive refresh
// timer is armed. Identity fields the grant body omitted are repaired from
// the access token claims.
func (s *Service) Establish(ctx context.Context, req EstablishRequest) (SessionStatus, error) {
	if req.AccessToken == "" {
		return SessionStatus{}, fmt.Errorf("%w: access token is required", domain.ErrInvalidInput)
	}
	if req.ExpiresAt.IsZero() {
		return SessionStatus{}, fmt.Errorf("%w: token expiry is required", domain.ErrInvalidInput)
	}

	identity := s.repairIdentity(ctx, req.Identity, req.AccessToken)
	if identity.ID == "" {
		return SessionStatus{}, fmt.Errorf("%w: identity id is required", domain.ErrInvalidInput)
	}

	now := s.clock.Now()
	grant := domain.TokenGrant{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		Identity:     identity,
	}
	if err := s.credentials.Store(ctx, grant.Record(now)); err != nil {
		return SessionStatus{}, err
	}

	meta := domain.SessionMetadata{
		UserID:      identity.ID,
		UserAgent:   req.Client.UserAgent,
		Fingerprint: sessionFingerprint(identity.ID, req.Client),
		StoredAt:    now,
	}
	if err := s.credentials.PutMetadata(ctx, meta); err != nil {
		// Without metadata the session could never be restored or
		// validated later; do not leave it half established.
		if clearErr := s.credentials.Clear(ctx); clearErr != nil {
			s.warn(ctx, "establish_session", "session clear incomplete after metadata failure", clearErr)
		}
		return SessionStatus{}, err
	}
	s.recordFingerprint(ctx, identity.ID, meta.Fingerprint, now)

	s.monitor.StartMonitoring(ctx, identity)
	s.coordinator.ScheduleAutoRefresh()
	s.bus.Publish(ctx, domain.Event{Kind: domain.EventSessionEstablished, At: now, UserID: identity.ID})

	slog.Default().InfoContext(ctx, "session established",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "establish_session",
		"outcome", "success",
		"user_id", identity.ID,
		"provider", identity.Provider,
		"expires_at", req.ExpiresAt,
	)
	return s.Status(), nil
}

// Restore revives a persisted session after a restart. The stored metadata
// must agree with the live client context; a mismatch clears everything
// and returns domain.ErrRestoreRejected. A stale record is renewed through
// the refresh path when a refresh token is held, otherwise the restore
// fails with domain.ErrSessionExpired.
func (s *Service) Restore(ctx context.Context, client domain.ClientContext) (SessionStatus, error) {
	rec, err := s.credentials.Load(ctx)
	if err != nil {
		return SessionStatus{}, err
	}
	if rec == nil {
		return SessionStatus{}, domain.ErrNoSession
	}

	meta, err := s.credentials.Metadata(ctx)
	if err != nil {
		return SessionStatus{}, err
	}
	if err := validateRestore(rec, meta, client); err != nil {
		if clearErr := s.credentials.Clear(ctx); clearErr != nil {
			s.warn(ctx, "restore_session", "session clear incomplete after rejected restore", clearErr)
		}
		slog.Default().WarnContext(ctx, "session restore rejected",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "restore_session",
			"outcome", "rejected",
			"error", err,
		)
		return SessionStatus{}, err
	}

	if !domain.IsValid(rec, s.clock.Now()) {
		if rec.RefreshToken == "" {
			if clearErr := s.credentials.Clear(ctx); clearErr != nil {
				s.warn(ctx, "restore_session", "session clear incomplete after expired restore", clearErr)
			}
			return SessionStatus{}, domain.ErrSessionExpired
		}
		refreshed, err := s.coordinator.Refresh(ctx)
		if err != nil {
			return SessionStatus{}, err
		}
		if !domain.IsValid(refreshed, s.clock.Now()) {
			if clearErr := s.credentials.Clear(ctx); clearErr != nil {
				s.warn(ctx, "restore_session", "session clear incomplete after failed renewal", clearErr)
			}
			return SessionStatus{}, domain.ErrSessionExpired
		}
		rec = refreshed
	}

	now := s.clock.Now()
	s.monitor.StartMonitoring(ctx, rec.Identity)
	s.coordinator.ScheduleAutoRefresh()
	s.recordFingerprint(ctx, rec.Identity.ID, sessionFingerprint(rec.Identity.ID, client), now)
	s.bus.Publish(ctx, domain.Event{Kind: domain.EventSessionRestored, At: now, UserID: rec.Identity.ID})

	slog.Default().InfoContext(ctx, "session restored",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "restore_session",
		"outcome", "success",
		"user_id", rec.Identity.ID,
	)
	return s.Status(), nil
}

// Logout ends the session on the user's initiative: in-flight refresh work
// is fenced off, monitoring stops without emitting timeout events, and
// every persisted artifact is removed.
func (s *Service) Logout(ctx context.Context) error {
	s.coordinator.Stop()
	s.monitor.StopMonitoring()
	if err := s.credentials.Clear(ctx); err != nil {
		return err
	}
	slog.Default().InfoContext(ctx, "session ended",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "logout",
		"outcome", "success",
	)
	return nil
}

// Status reports the current session read-model. Purely in-memory.
func (s *Service) Status() SessionStatus {
	now := s.clock.Now()
	var status SessionStatus
	if rec := s.credentials.Get(); rec != nil {
		status.Active = true
		status.Valid = domain.IsValid(rec, now)
		status.NeedsRefresh = domain.NeedsRefresh(rec, now)
		expiresAt := rec.ExpiresAt
		status.ExpiresAt = &expiresAt
		identity := rec.Identity
		status.Identity = &identity
	}
	if state, ok := s.monitor.Snapshot(); ok {
		state.RefreshAttempts = s.coordinator.RefreshAttempts()
		status.Activity = &state
	}
	return status
}

// UpdateActivity records user activity against the monitored session.
func (s *Service) UpdateActivity(ctx context.Context) error {
	return s.monitor.UpdateActivity(ctx)
}

// RecordFailedOperation feeds the failed-operation anomaly counter.
func (s *Service) RecordFailedOperation() {
	s.monitor.RecordFailedOperation()
}

// RefreshSession forces a refresh through the coordinator. (nil, nil)
// means no refresh token is held.
func (s *Service) RefreshSession(ctx context.Context) (*domain.SessionRecord, error) {
	return s.coordinator.Refresh(ctx)
}

// ValidateSession reports whether a valid session is held, refreshing
// first when possible. This is the question sibling services ask.
func (s *Service) ValidateSession(ctx context.Context) (bool, error) {
	return s.coordinator.CheckAndRefresh(ctx)
}

// CheckAccess answers whether the session's identity may perform action on
// resource. It requires a valid session, renewing one that can be renewed;
// the decision itself never counts as activity.
func (s *Service) CheckAccess(ctx context.Context, resource, action string) (domain.AccessDecision, error) {
	identity, err := s.requireValidIdentity(ctx)
	if err != nil {
		return domain.AccessDecision{}, err
	}
	return s.authorizer.CheckAccess(identity, resource, action), nil
}

// Permissions returns the session identity's resolved permission list.
func (s *Service) Permissions(ctx context.Context) ([]domain.Permission, error) {
	identity, err := s.requireValidIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.authorizer.ResolvePermissions(identity), nil
}

// Workflows returns the catalog entries available to the session identity.
func (s *Service) Workflows(ctx context.Context) ([]authz.Workflow, error) {
	identity, err := s.requireValidIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.authorizer.ListAvailableWorkflows(identity, s.authorizer.Catalog()), nil
}

// CheckAnomalies runs one suspicious-activity sweep. A positive detection
// publishes SUSPICIOUS_ACTIVITY with the indicators; whether it also
// invalidates the session is governed by Config.InvalidateOnSuspicious.
func (s *Service) CheckAnomalies(ctx context.Context) AnomalyReport {
	suspicious, indicators := s.detector.DetectSuspiciousActivity(ctx)
	if !suspicious {
		return AnomalyReport{}
	}

	var userID string
	if rec := s.credentials.Get(); rec != nil {
		userID = rec.Identity.ID
	}
	s.bus.Publish(ctx, domain.Event{
		Kind:       domain.EventSuspiciousActivity,
		At:         s.clock.Now(),
		Indicators: indicators,
		UserID:     userID,
	})
	slog.Default().WarnContext(ctx, "suspicious activity detected",
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", "check_anomalies",
		"outcome", "flagged",
		"user_id", userID,
		"indicators", indicators,
	)

	report := AnomalyReport{Suspicious: true, Indicators: indicators}
	if s.cfg.InvalidateOnSuspicious {
		s.monitor.InvalidateSession(ctx, domain.ReasonSuspiciousActivity)
		report.Invalidated = true
	}
	return report
}

// requireValidIdentity gates the access-decision operations: no session is
// domain.ErrNoSession, an unrenewable one is domain.ErrSessionExpired.
func (s *Service) requireValidIdentity(ctx context.Context) (domain.Identity, error) {
	rec := s.credentials.Get()
	if rec == nil {
		return domain.Identity{}, domain.ErrNoSession
	}
	if !domain.IsValid(rec, s.clock.Now()) {
		ok, err := s.coordinator.CheckAndRefresh(ctx)
		if err != nil {
			return domain.Identity{}, err
		}
		if !ok {
			return domain.Identity{}, domain.ErrSessionExpired
		}
		rec = s.credentials.Get()
		if rec == nil {
			return domain.Identity{}, domain.ErrNoSession
		}
	}
	return rec.Identity, nil
}

// repairIdentity fills identity fields the grant body omitted from the
// access token claims, then derives the attribute domain from the email
// when still unset. Grant-supplied values always win; claims parsing
// trouble degrades to the supplied identity.
func (s *Service) repairIdentity(ctx context.Context, identity domain.Identity, accessToken string) domain.Identity {
	if s.parser != nil && identityIncomplete(identity) {
		claims, err := s.parser.ParseIdentity(accessToken)
		if err != nil {
			s.warn(ctx, "establish_session", "access token claims unreadable", err)
		} else {
			if identity.ID == "" {
				identity.ID = claims.ID
			}
			if identity.Email == "" {
				identity.Email = claims.Email
			}
			if identity.Name == "" {
				identity.Name = claims.Name
			}
			if identity.Provider == "" {
				identity.Provider = claims.Provider
			}
			if bagEmpty(identity.Attributes) && !bagEmpty(claims.Attributes) {
				identity = identity.ReplaceAttributes(claims.Attributes)
			}
		}
	}

	if identity.Attributes.Domain == "" {
		if _, host, ok := strings.Cut(identity.Email, "@"); ok && host != "" {
			bag := identity.Attributes
			bag.Domain = strings.ToLower(host)
			identity = identity.ReplaceAttributes(bag)
		}
	}
	return identity
}

func identityIncomplete(identity domain.Identity) bool {
	return identity.ID == "" || identity.Email == "" || identity.Name == "" ||
		identity.Provider == "" || bagEmpty(identity.Attributes)
}

func bagEmpty(bag domain.AttributeBag) bool {
	return bag.Domain == "" && len(bag.Roles) == 0 && bag.Department == "" &&
		bag.Organization == "" && len(bag.Custom) == 0
}

// sessionFingerprint derives the stable identifier approximating one
// distinct client session for the concurrent-session heuristic.
func sessionFingerprint(userID string, client domain.ClientContext) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{userID, client.UserAgent, client.IPAddress}, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *Service) recordFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) {
	if s.fingerprints == nil || userID == "" {
		return
	}
	if err := s.fingerprints.Record(ctx, userID, domain.Fingerprint{Value: fingerprint, SeenAt: now}); err != nil {
		s.warn(ctx, "record_fingerprint", "fingerprint record failed", err)
	}
}

func validateRestore(rec *domain.SessionRecord, meta *domain.SessionMetadata, client domain.ClientContext) error {
	if meta == nil {
		return fmt.Errorf("%w: no session metadata", domain.ErrRestoreRejected)
	}
	if meta.UserID != rec.Identity.ID {
		return fmt.Errorf("%w: stored user mismatch", domain.ErrRestoreRejected)
	}
	if meta.UserAgent != client.UserAgent {
		return fmt.Errorf("%w: user agent mismatch", domain.ErrRestoreRejected)
	}
	return nil
}

func (s *Service) warn(ctx context.Context, operation, msg string, err error) {
	slog.Default().WarnContext(ctx, msg,
		"service", "sessiongate",
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "warning",
		"error", err,
	)
}
