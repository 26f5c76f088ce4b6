package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/domain"
)

// defaultRestoreGrace is how long a session record outlives its access
// token, so a restore can still find the record and renew it through the
// refresh path.
const defaultRestoreGrace = 24 * time.Hour

// sessionRecordDoc is the persisted record envelope. Expiries travel as
// epoch milliseconds.
type sessionRecordDoc struct {
	AccessToken string          `json:"accessToken"`
	User        domain.Identity `json:"user"`
	ExpiresAt   int64           `json:"expiresAt"`
	StoredAt    int64           `json:"storedAt"`
}

// RedisSessionRecordStore keeps the current session record per context key.
// The refresh token never appears here; it has its own sealed store.
type RedisSessionRecordStore struct {
	client *redis.Client
	grace  time.Duration
}

// NewRedisSessionRecordStore creates the record store. grace extends entry
// TTL past token expiry; zero or negative selects the default.
func NewRedisSessionRecordStore(client *redis.Client, grace time.Duration) *RedisSessionRecordStore {
	if grace <= 0 {
		grace = defaultRestoreGrace
	}
	return &RedisSessionRecordStore{client: client, grace: grace}
}

func (s *RedisSessionRecordStore) Put(ctx context.Context, contextKey string, rec domain.SessionRecord) error {
	doc := sessionRecordDoc{
		AccessToken: rec.AccessToken,
		User:        rec.Identity,
		ExpiresAt:   rec.ExpiresAt.UnixMilli(),
		StoredAt:    rec.CreatedAt.UnixMilli(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, "sessiongate:session:"+contextKey, raw, ttl+s.grace).Err()
}

func (s *RedisSessionRecordStore) Get(ctx context.Context, contextKey string) (*domain.SessionRecord, error) {
	raw, err := s.client.Get(ctx, "sessiongate:session:"+contextKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var doc sessionRecordDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if doc.AccessToken == "" {
		return nil, fmt.Errorf("%w: record without access token", domain.ErrMalformedRecord)
	}
	return &domain.SessionRecord{
		AccessToken: doc.AccessToken,
		Identity:    doc.User,
		ExpiresAt:   time.UnixMilli(doc.ExpiresAt).UTC(),
		CreatedAt:   time.UnixMilli(doc.StoredAt).UTC(),
	}, nil
}

func (s *RedisSessionRecordStore) Delete(ctx context.Context, contextKey string) error {
	return s.client.Del(ctx, "sessiongate:session:"+contextKey).Err()
}
