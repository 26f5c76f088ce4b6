package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
)

// SessionRecordStore persists the current session record for a monitored
// context. The record carries the short-lived access token, so entries
// expire with the token; absent values are (nil, nil), not errors.
type SessionRecordStore interface {
	Put(ctx context.Context, contextKey string, rec domain.SessionRecord) error
	Get(ctx context.Context, contextKey string) (*domain.SessionRecord, error)
	Delete(ctx context.Context, contextKey string) error
}

// RefreshTokenStore persists the refresh token separately from the record.
// It outlives the access token so an expired session can still come back
// through the refresh path. Implementations seal the value at rest; the
// plaintext token never reaches the backing store.
type RefreshTokenStore interface {
	Put(ctx context.Context, contextKey, refreshToken string) error
	// Get returns the plaintext token, or "" when none is stored.
	Get(ctx context.Context, contextKey string) (string, error)
	Delete(ctx context.Context, contextKey string) error
}

// SessionMetadataStore keeps the restore-validation envelope written at
// establish time and checked before a persisted session is trusted again.
type SessionMetadataStore interface {
	Put(ctx context.Context, contextKey string, meta domain.SessionMetadata) error
	Get(ctx context.Context, contextKey string) (*domain.SessionMetadata, error)
	Delete(ctx context.Context, contextKey string) error
}

// HandshakeState is the transient login-handshake residue (anti-CSRF state,
// nonce, PKCE verifier) parked between the authorize redirect and the token
// exchange.
type HandshakeState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HandshakeStore manages handshake residue. Purge removes every entry for
// the context; session teardown calls it unconditionally because leftover
// verifiers are a security defect, not just clutter.
type HandshakeStore interface {
	Put(ctx context.Context, contextKey string, hs HandshakeState, ttl time.Duration) error
	Get(ctx context.Context, contextKey string) (*HandshakeState, error)
	Purge(ctx context.Context, contextKey string) error
}

// FingerprintStore tracks recently seen session fingerprints per user, the
// approximation behind the concurrent-session heuristic. Entries are scored
// by last-seen time so pruning by age is a range delete.
type FingerprintStore interface {
	Record(ctx context.Context, userID string, fp domain.Fingerprint) error
	// ActiveSince lists fingerprints seen at or after the given instant.
	ActiveSince(ctx context.Context, userID string, since time.Time) ([]domain.Fingerprint, error)
	Prune(ctx context.Context, userID string, before time.Time) error
	Clear(ctx context.Context, userID string) error
}

// CloneJSON deep-copies JSON-serializable values.
// It is used to avoid accidental mutation sharing in cached state objects.
func CloneJSON[T any](in T) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
