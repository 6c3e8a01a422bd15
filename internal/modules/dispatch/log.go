// README: Dispatch bookkeeping backed by Redis: which deliveries have been
// fanned out, when, and to whom.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agronet/internal/types"
)

const (
	dispatchedAtKeyFmt = "dispatch:delivery:%s:dispatched_at"
	notifiedKeyFmt     = "dispatch:delivery:%s:notified"
	// Deliveries resolve well within a week; keys expire on their own.
	keyTTL = 7 * 24 * time.Hour
)

// Log records dispatch attempts so a watcher restart that replays the
// initial snapshot does not fan out the same delivery twice. Re-dispatch is
// harmless for correctness (the accept transaction still admits one driver),
// it just spams drivers.
type Log interface {
	WasDispatched(ctx context.Context, id types.ID) (bool, error)
	MarkDispatched(ctx context.Context, id types.ID, notified []types.ID) error
}

type RedisLog struct {
	redis *redis.Client
}

func NewRedisLog(redis *redis.Client) *RedisLog {
	return &RedisLog{redis: redis}
}

func (l *RedisLog) WasDispatched(ctx context.Context, id types.ID) (bool, error) {
	_, err := l.redis.Get(ctx, dispatchedAtKey(id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisLog) MarkDispatched(ctx context.Context, id types.ID, notified []types.ID) error {
	pipe := l.redis.Pipeline()
	pipe.Set(ctx, dispatchedAtKey(id), time.Now().UTC().Format(time.RFC3339), keyTTL)
	if len(notified) > 0 {
		members := make([]interface{}, len(notified))
		for i, d := range notified {
			members[i] = string(d)
		}
		key := fmt.Sprintf(notifiedKeyFmt, string(id))
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func dispatchedAtKey(id types.ID) string {
	return fmt.Sprintf(dispatchedAtKeyFmt, string(id))
}
