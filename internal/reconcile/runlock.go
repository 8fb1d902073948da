package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock guarantees at most one reconciliation run at a time.
// TryAcquire never blocks on a held lock; ok is false instead.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock serializes runs within one process.
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock returns an in-process run lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// TryAcquire implements RunLock.
func (l *LocalLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, true, nil
}

// RunLockKey is the Redis key guarding reconciliation across instances.
const RunLockKey = "reconcile:run-lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock serializes runs across processes sharing one Redis. The TTL bounds
// how long a crashed holder can block others.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a distributed run lock.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, key: RunLockKey, ttl: ttl}
}

// TryAcquire implements RunLock.
func (l *RedisLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err()
		})
	}
	return release, true, nil
}

// ChainLock acquires each lock in order and holds all of them for the run.
type ChainLock []RunLock

// TryAcquire implements RunLock.
func (c ChainLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, ok, err := l.TryAcquire(ctx)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	if len(releases) == 0 {
		return nil, false, errors.New("empty lock chain")
	}
	return releaseAll, true, nil
}
