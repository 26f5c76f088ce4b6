package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/ports"
)

// defaultTokenRetention bounds how long a refresh token waits for the next
// restore before it is discarded.
const defaultTokenRetention = 7 * 24 * time.Hour

// refreshTokenDoc is the persisted refresh-token envelope. The token field
// holds sealed ciphertext, never the plaintext.
type refreshTokenDoc struct {
	RefreshToken string `json:"refreshToken"`
	StoredAt     int64  `json:"storedAt"`
}

// RedisRefreshTokenStore keeps the sealed refresh token per context key.
// It outlives the session record so an expired session can come back
// through the refresh path.
type RedisRefreshTokenStore struct {
	client    *redis.Client
	sealer    ports.TokenSealer
	retention time.Duration
}

// NewRedisRefreshTokenStore creates the sealed token store. retention zero
// or negative selects the default.
func NewRedisRefreshTokenStore(client *redis.Client, sealer ports.TokenSealer, retention time.Duration) *RedisRefreshTokenStore {
	if retention <= 0 {
		retention = defaultTokenRetention
	}
	return &RedisRefreshTokenStore{client: client, sealer: sealer, retention: retention}
}

func (s *RedisRefreshTokenStore) Put(ctx context.Context, contextKey, refreshToken string) error {
	sealed, err := s.sealer.Seal(refreshToken)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(refreshTokenDoc{
		RefreshToken: sealed,
		StoredAt:     time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "sessiongate:refresh:"+contextKey, raw, s.retention).Err()
}

func (s *RedisRefreshTokenStore) Get(ctx context.Context, contextKey string) (string, error) {
	raw, err := s.client.Get(ctx, "sessiongate:refresh:"+contextKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	var doc refreshTokenDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	return s.sealer.Open(doc.RefreshToken)
}

func (s *RedisRefreshTokenStore) Delete(ctx context.Context, contextKey string) error {
	return s.client.Del(ctx, "sessiongate:refresh:"+contextKey).Err()
}
