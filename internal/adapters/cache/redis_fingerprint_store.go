package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/domain"
)

// RedisFingerprintStore tracks recently seen session fingerprints per user
// in a sorted set scored by last-seen time, so age-based pruning is a
// range delete.
type RedisFingerprintStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisFingerprintStore creates the fingerprint registry. retention
// bounds how long an idle registry key survives; zero or negative selects
// the refresh-token default.
func NewRedisFingerprintStore(client *redis.Client, retention time.Duration) *RedisFingerprintStore {
	if retention <= 0 {
		retention = defaultTokenRetention
	}
	return &RedisFingerprintStore{client: client, retention: retention}
}

func (s *RedisFingerprintStore) Record(ctx context.Context, userID string, fp domain.Fingerprint) error {
	key := "sessiongate:fingerprints:" + userID
	err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(fp.SeenAt.UnixMilli()),
		Member: fp.Value,
	}).Err()
	if err != nil {
		return err
	}
	_ = s.client.Expire(ctx, key, s.retention).Err()
	return nil
}

func (s *RedisFingerprintStore) ActiveSince(ctx context.Context, userID string, since time.Time) ([]domain.Fingerprint, error) {
	entries, err := s.client.ZRangeByScoreWithScores(ctx, "sessiongate:fingerprints:"+userID, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Fingerprint, 0, len(entries))
	for _, entry := range entries {
		value, ok := entry.Member.(string)
		if !ok {
			continue
		}
		out = append(out, domain.Fingerprint{
			Value:  value,
			SeenAt: time.UnixMilli(int64(entry.Score)).UTC(),
		})
	}
	return out, nil
}

func (s *RedisFingerprintStore) Prune(ctx context.Context, userID string, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	return s.client.ZRemRangeByScore(ctx, "sessiongate:fingerprints:"+userID, "-inf", max).Err()
}

func (s *RedisFingerprintStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, "sessiongate:fingerprints:"+userID).Err()
}
