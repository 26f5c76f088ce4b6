package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// CredentialStores groups the backing stores the credential holder writes
// through to. Record and refresh token deliberately live in separate
// stores: the refresh token must outlive the access token it renews.
type CredentialStores struct {
	Records       ports.SessionRecordStore
	RefreshTokens ports.RefreshTokenStore
	Metadata      ports.SessionMetadataStore
	Handshakes    ports.HandshakeStore
}

// CredentialStore holds the live session record for one monitored context.
// The in-memory record is the read path for every other component; the
// backing stores only matter at establish, refresh, restore, and teardown.
// Readers never observe a partially written record.
type CredentialStore struct {
	contextKey string
	stores     CredentialStores

	mu      sync.RWMutex
	current *domain.SessionRecord
}

func NewCredentialStore(contextKey string, stores CredentialStores) *CredentialStore {
	if contextKey == "" {
		contextKey = DefaultContextKey
	}
	return &CredentialStore{contextKey: contextKey, stores: stores}
}

// Store replaces the held record wholesale and writes it through. The
// persisted record omits the refresh token, which goes to its own store.
// On any write failure the in-memory record is left untouched and the
// error wraps domain.ErrStorage: failing loudly beats staying stale.
func (s *CredentialStore) Store(ctx context.Context, rec domain.SessionRecord) error {
	if rec.AccessToken == "" {
		return fmt.Errorf("%w: session record without access token", domain.ErrInvalidInput)
	}

	// The held record is a deep copy; the caller keeps ownership of its
	// own and cannot reach into the one readers see.
	cp, err := ports.CloneJSON(rec)
	if err != nil {
		return fmt.Errorf("%w: session record not serializable: %v", domain.ErrInvalidInput, err)
	}

	persisted := rec
	persisted.RefreshToken = ""
	if err := s.stores.Records.Put(ctx, s.contextKey, persisted); err != nil {
		return fmt.Errorf("%w: persist session record: %v", domain.ErrStorage, err)
	}
	if rec.RefreshToken != "" {
		if err := s.stores.RefreshTokens.Put(ctx, s.contextKey, rec.RefreshToken); err != nil {
			return fmt.Errorf("%w: persist refresh token: %v", domain.ErrStorage, err)
		}
	}

	s.mu.Lock()
	s.current = &cp
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the held record, or nil when no session is held.
func (s *CredentialStore) Get() *domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Load hydrates the in-memory record from the backing stores, grafting the
// separately stored refresh token back on. A record that fails to decode
// is logged, deleted, and treated as absent rather than surfaced: stored
// garbage must never crash a restore.
func (s *CredentialStore) Load(ctx context.Context) (*domain.SessionRecord, error) {
	rec, err := s.stores.Records.Get(ctx, s.contextKey)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRecord) {
			slog.Default().WarnContext(ctx, "stored session record unreadable, treating as absent",
				"service", "sessiongate",
				"module", "application",
				"layer", "application",
				"operation", "load_session",
				"outcome", "warning",
				"context_key", s.contextKey,
				"error", err,
			)
			_ = s.stores.Records.Delete(ctx, s.contextKey)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load session record: %v", domain.ErrStorage, err)
	}
	if rec == nil {
		return nil, nil
	}

	token, err := s.stores.RefreshTokens.Get(ctx, s.contextKey)
	if err != nil {
		// An unreadable refresh token leaves the session usable until the
		// access token expires, so degrade instead of failing the load.
		slog.Default().WarnContext(ctx, "stored refresh token unreadable",
			"service", "sessiongate",
			"module", "application",
			"layer", "application",
			"operation", "load_session",
			"outcome", "warning",
			"context_key", s.contextKey,
			"error", err,
		)
		token = ""
	}
	rec.RefreshToken = token

	// Same isolation as Store: the returned record is the caller's to
	// mutate, so the held one must not share memory with it.
	cp, err := ports.CloneJSON(*rec)
	if err != nil {
		return nil, fmt.Errorf("%w: copy session record: %v", domain.ErrStorage, err)
	}
	s.mu.Lock()
	s.current = &cp
	s.mu.Unlock()
	return rec, nil
}

// Clear drops the in-memory record and removes every persisted artifact of
// the session: record, refresh token, metadata, and login-handshake
// residue. All removals are attempted even when earlier ones fail.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	var errs []error
	if err := s.stores.Records.Delete(ctx, s.contextKey); err != nil {
		errs = append(errs, fmt.Errorf("session record: %w", err))
	}
	if err := s.stores.RefreshTokens.Delete(ctx, s.contextKey); err != nil {
		errs = append(errs, fmt.Errorf("refresh token: %w", err))
	}
	if err := s.stores.Metadata.Delete(ctx, s.contextKey); err != nil {
		errs = append(errs, fmt.Errorf("session metadata: %w", err))
	}
	if err := s.stores.Handshakes.Purge(ctx, s.contextKey); err != nil {
		errs = append(errs, fmt.Errorf("handshake residue: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: clear session artifacts: %v", domain.ErrStorage, errors.Join(errs...))
	}
	return nil
}

// PutMetadata persists the restore-validation envelope.
func (s *CredentialStore) PutMetadata(ctx context.Context, meta domain.SessionMetadata) error {
	if err := s.stores.Metadata.Put(ctx, s.contextKey, meta); err != nil {
		return fmt.Errorf("%w: persist session metadata: %v", domain.ErrStorage, err)
	}
	return nil
}

// Metadata reads the restore-validation envelope, (nil, nil) when absent.
func (s *CredentialStore) Metadata(ctx context.Context) (*domain.SessionMetadata, error) {
	meta, err := s.stores.Metadata.Get(ctx, s.contextKey)
	if err != nil {
		return nil, fmt.Errorf("%w: load session metadata: %v", domain.ErrStorage, err)
	}
	return meta, nil
}

// ContextKey returns the namespace this store is bound to.
func (s *CredentialStore) ContextKey() string { return s.contextKey }
