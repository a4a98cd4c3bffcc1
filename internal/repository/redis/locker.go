package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes KEYS[1] only while it still holds the caller's token, so an
// expired lock re-taken by someone else is left alone.
const luaCompareAndDelete = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// LegLocker takes short-lived advisory locks on leg keys across instances.
// It only narrows the race window; the database constraint decides.
type LegLocker struct {
	rdb    *redis.Client
	unlock *redis.Script
}

func NewLegLocker(rdb *redis.Client) *LegLocker {
	return &LegLocker{
		rdb:    rdb,
		unlock: redis.NewScript(luaCompareAndDelete),
	}
}

func (l *LegLocker) TryLock(ctx context.Context, leg string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, KeyLegLock(leg), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

func (l *LegLocker) Unlock(ctx context.Context, leg, token string) error {
	return l.unlock.Run(ctx, l.rdb, []string{KeyLegLock(leg)}, token).Err()
}
