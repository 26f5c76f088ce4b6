package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/ports"
)

// defaultHandshakeTTL caps how long abandoned login-handshake residue may
// linger when the caller does not bound it.
const defaultHandshakeTTL = 10 * time.Minute

// RedisHandshakeStore parks transient login-handshake residue between the
// authorize redirect and the token exchange. Purge sweeps the whole
// context-key pattern so aborted flows leave nothing behind.
type RedisHandshakeStore struct {
	client *redis.Client
}

// NewRedisHandshakeStore creates the handshake residue store.
func NewRedisHandshakeStore(client *redis.Client) *RedisHandshakeStore {
	return &RedisHandshakeStore{client: client}
}

func (s *RedisHandshakeStore) Put(ctx context.Context, contextKey string, hs ports.HandshakeState, ttl time.Duration) error {
	raw, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultHandshakeTTL
	}
	return s.client.Set(ctx, "sessiongate:handshake:"+contextKey+":current", raw, ttl).Err()
}

func (s *RedisHandshakeStore) Get(ctx context.Context, contextKey string) (*ports.HandshakeState, error) {
	raw, err := s.client.Get(ctx, "sessiongate:handshake:"+contextKey+":current").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var hs ports.HandshakeState
	if err := json.Unmarshal(raw, &hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

func (s *RedisHandshakeStore) Purge(ctx context.Context, contextKey string) error {
	pattern := "sessiongate:handshake:" + contextKey + ":*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
