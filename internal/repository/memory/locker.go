package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LegLocker is an in-process advisory lock table with expiry, used in
// place of the redis locker when running without redis.
type LegLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

type lockEntry struct {
	token   string
	expires time.Time
}

func NewLegLocker() *LegLocker {
	return &LegLocker{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

func (l *LegLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	return token, true, nil
}

// Unlock releases key only if token still owns it.
func (l *LegLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[key]; ok && e.token == token {
		delete(l.locks, key)
	}

	return nil
}

// held counts unexpired locks.
func (l *LegLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	now := l.now()
	for _, e := range l.locks {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}
