package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, ttl), mr
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	lock, _ := newRedisLock(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	release2, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestRedisLockExpiresAndStaleReleaseIsHarmless(t *testing.T) {
	lock, mr := newRedisLock(t, time.Minute)
	ctx := context.Background()

	stale, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists(RunLockKey))
}

func TestChainLockReleasesPartialAcquisition(t *testing.T) {
	local := NewLocalLock()
	held := NewLocalLock()
	release, ok, err := held.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	chain := ChainLock{local, held}
	_, ok, err = chain.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	r, ok, err := local.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "first lock must be released after the chain failed")
	r()
}
