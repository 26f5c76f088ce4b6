package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veltrix/sessiongate/internal/ports"
)

// activityMark is the published payload. The instance id lets subscribers
// drop their own announcements, the way a browser channel never delivers a
// message back to the posting tab.
type activityMark struct {
	Instance string `json:"instance"`
	AtMS     int64  `json:"atMs"`
}

// RedisActivityBroadcaster relays activity marks between session holders
// sharing a context key over redis pub/sub. Delivery is best-effort; a
// missed mark only shortens the perceived idle window.
type RedisActivityBroadcaster struct {
	client   *redis.Client
	instance string
}

// NewRedisActivityBroadcaster creates the broadcaster with a fresh
// instance id.
func NewRedisActivityBroadcaster(client *redis.Client) *RedisActivityBroadcaster {
	return &RedisActivityBroadcaster{client: client, instance: uuid.NewString()}
}

func (b *RedisActivityBroadcaster) Announce(ctx context.Context, contextKey string, at time.Time) error {
	raw, err := json.Marshal(activityMark{Instance: b.instance, AtMS: at.UnixMilli()})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, "sessiongate:activity:"+contextKey, raw).Err()
}

// Subscribe starts a delivery loop for the context key's channel. The ctx
// bounds subscription setup only; delivery runs until Close. A callback
// already dequeued when Close is called may still complete, which the
// monitor's generation check absorbs.
func (b *RedisActivityBroadcaster) Subscribe(ctx context.Context, contextKey string, onActivity func(at time.Time)) (ports.ActivitySubscription, error) {
	sub := b.client.Subscribe(ctx, "sessiongate:activity:"+contextKey)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	go func() {
		for msg := range sub.Channel() {
			var mark activityMark
			if err := json.Unmarshal([]byte(msg.Payload), &mark); err != nil {
				continue
			}
			if mark.Instance == b.instance {
				continue
			}
			onActivity(time.UnixMilli(mark.AtMS).UTC())
		}
	}()
	return sub, nil
}
