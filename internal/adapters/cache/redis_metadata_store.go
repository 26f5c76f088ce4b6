package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/domain"
)

// sessionMetadataDoc is the persisted restore-validation envelope.
type sessionMetadataDoc struct {
	UserID      string `json:"userId"`
	UserAgent   string `json:"userAgent"`
	Fingerprint string `json:"fingerprint"`
	StoredAt    int64  `json:"storedAt"`
}

// RedisSessionMetadataStore keeps the restore-validation envelope per
// context key, with the same retention as the refresh token it gates.
type RedisSessionMetadataStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisSessionMetadataStore creates the metadata store. retention zero
// or negative selects the refresh-token default.
func NewRedisSessionMetadataStore(client *redis.Client, retention time.Duration) *RedisSessionMetadataStore {
	if retention <= 0 {
		retention = defaultTokenRetention
	}
	return &RedisSessionMetadataStore{client: client, retention: retention}
}

func (s *RedisSessionMetadataStore) Put(ctx context.Context, contextKey string, meta domain.SessionMetadata) error {
	raw, err := json.Marshal(sessionMetadataDoc{
		UserID:      meta.UserID,
		UserAgent:   meta.UserAgent,
		Fingerprint: meta.Fingerprint,
		StoredAt:    meta.StoredAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "sessiongate:meta:"+contextKey, raw, s.retention).Err()
}

func (s *RedisSessionMetadataStore) Get(ctx context.Context, contextKey string) (*domain.SessionMetadata, error) {
	raw, err := s.client.Get(ctx, "sessiongate:meta:"+contextKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var doc sessionMetadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &domain.SessionMetadata{
		UserID:      doc.UserID,
		UserAgent:   doc.UserAgent,
		Fingerprint: doc.Fingerprint,
		StoredAt:    time.UnixMilli(doc.StoredAt).UTC(),
	}, nil
}

func (s *RedisSessionMetadataStore) Delete(ctx context.Context, contextKey string) error {
	return s.client.Del(ctx, "sessiongate:meta:"+contextKey).Err()
}
