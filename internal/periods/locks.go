package periods

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockTTL = 30 * time.Second

// lockKey builds the redis key for a period critical section.
func lockKey(periodName string) string {
	return fmt.Sprintf("closing:period:%s:lock", periodName)
}

// Locker enforces at-most-one in-flight transition per period. A keyed
// in-process mutex serializes within the instance; when a redis client is
// configured, a SETNX lease extends the guarantee across instances.
// Transitions on different periods proceed independently.
type Locker struct {
	mu     sync.Mutex
	locked map[string]bool
	redis  *redis.Client
}

// NewLocker constructs a Locker. The redis client may be nil.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{locked: make(map[string]bool), redis: client}
}

// Acquire takes the per-period lock, returning a release function. It fails
// with ErrTransitionInFlight rather than queueing, so a racing second close
// request is rejected deterministically.
func (l *Locker) Acquire(ctx context.Context, periodName string) (func(), error) {
	l.mu.Lock()
	if l.locked[periodName] {
		l.mu.Unlock()
		return nil, ErrTransitionInFlight
	}
	l.locked[periodName] = true
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.locked, periodName)
		l.mu.Unlock()
	}

	if l.redis == nil {
		return releaseLocal, nil
	}
	key := lockKey(periodName)
	ok, err := l.redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		// Redis being down must not wedge transitions; the local mutex
		// still guards this instance.
		return releaseLocal, nil
	}
	if !ok {
		releaseLocal()
		return nil, ErrTransitionInFlight
	}
	return func() {
		_ = l.redis.Del(context.Background(), key).Err()
		releaseLocal()
	}, nil
}
