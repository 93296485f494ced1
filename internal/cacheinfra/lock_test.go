package cacheinfra_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-cache-aside/cache"
	"github.com/goliatone/go-cache-aside/internal/cacheinfra"
)

var (
	_ cache.DistributedLock = (*cacheinfra.RedisLock)(nil)
	_ cache.DistributedLock = (*cacheinfra.LocalLock)(nil)
)

func newRedisLockPair(t *testing.T) (*cacheinfra.RedisLock, *cacheinfra.RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cacheinfra.NewRedisLock(client, "lock:"), cacheinfra.NewRedisLock(client, "lock:"), mr
}

func TestRedisLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	a, b, mr := newRedisLockPair(t)

	ok, err := a.TryAcquire(ctx, "rebuild:user", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:rebuild:user"))

	ok, err = b.TryAcquire(ctx, "rebuild:user", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, "rebuild:user"), "releasing a lock we do not hold is a no-op")
	assert.True(t, mr.Exists("lock:rebuild:user"))

	require.NoError(t, a.Release(ctx, "rebuild:user"))
	assert.False(t, mr.Exists("lock:rebuild:user"))

	ok, err = b.TryAcquire(ctx, "rebuild:user", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	ctx := context.Background()
	a, b, mr := newRedisLockPair(t)

	ok, err := a.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Release(ctx, "k"))
	assert.True(t, mr.Exists("lock:k"), "stale holder must not drop the new lease")
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	lock := cacheinfra.NewLocalLock()

	ok, err := lock.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "k"))
	require.NoError(t, lock.Release(ctx, "k"))

	ok, err = lock.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLock_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	lock := cacheinfra.NewLocalLock()

	ok, _ := lock.TryAcquire(ctx, "k", time.Millisecond)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, _ := lock.TryAcquire(ctx, "k", time.Minute)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalLock_SingleWinner(t *testing.T) {
	ctx := context.Background()
	lock := cacheinfra.NewLocalLock()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := lock.TryAcquire(ctx, "hot", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestWithLock_RedisLock(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newRedisLockPair(t)

	err := cache.WithLock(ctx, a, "rebuild", time.Minute, func(ctx context.Context) error {
		inner := cache.WithLock(ctx, b, "rebuild", time.Minute, func(context.Context) error { return nil })
		assert.True(t, cache.IsLockNotAcquired(inner))
		return nil
	})
	require.NoError(t, err)
}

func TestLocalLock_SharedInstanceStaleHolderKeepsNewLease(t *testing.T) {
	ctx := context.Background()
	lock := cacheinfra.NewLocalLock()

	err := cache.WithLock(ctx, lock, "job", 5*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)

		ok, err := lock.TryAcquire(ctx, "job", time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "expired lease must be free")
		return nil
	})
	require.NoError(t, err)

	ok, err := lock.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "the first holder's release must not drop the second lease")
}

func TestRedisLock_SharedInstanceStaleHolderKeepsNewLease(t *testing.T) {
	ctx := context.Background()
	lock, _, mr := newRedisLockPair(t)

	err := cache.WithLock(ctx, lock, "job", time.Second, func(ctx context.Context) error {
		mr.FastForward(2 * time.Second)

		ok, err := lock.TryAcquire(ctx, "job", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:job"))

	require.NoError(t, lock.Release(ctx, "job"))
	assert.False(t, mr.Exists("lock:job"))
}

func TestLeaseTokens(t *testing.T) {
	ctx := context.Background()
	locks := map[string]cache.LeaseLock{"local": cacheinfra.NewLocalLock()}
	redisLock, _, _ := newRedisLockPair(t)
	locks["redis"] = redisLock

	for name, lock := range locks {
		t.Run(name, func(t *testing.T) {
			token, ok, err := lock.TryAcquireToken(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotEmpty(t, token)

			_, ok, err = lock.TryAcquireToken(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, lock.ReleaseToken(ctx, "k", "someone-else"))
			_, ok, _ = lock.TryAcquireToken(ctx, "k", time.Minute)
			assert.False(t, ok, "a foreign token leaves the lease in place")

			require.NoError(t, lock.ReleaseToken(ctx, "k", token))
			_, ok, err = lock.TryAcquireToken(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
