package cacheinfra

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-cache-aside/cache"
)

// DefaultLockTTL is used when a caller passes a non-positive TTL.
const DefaultLockTTL = 30 * time.Second

// releaseScript deletes the lock only while it still carries our token, so
// a holder whose lease expired cannot drop a lock someone else took since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements a lease lock with SET NX PX and a token checked on
// release.
type RedisLock struct {
	client redis.UniversalClient
	prefix string
	tokens *xsync.MapOf[string, string]
}

var _ cache.LeaseLock = (*RedisLock)(nil)

// NewRedisLock creates a lock whose keys live under prefix (e.g. "lock:").
func NewRedisLock(client redis.UniversalClient, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: xsync.NewMapOf[string, string](),
	}
}

func (l *RedisLock) TryAcquireToken(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLock) ReleaseToken(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

// TryAcquire remembers the token of the lease for Release.
func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token, ok, err := l.TryAcquireToken(ctx, key, ttl)
	if ok {
		l.tokens.Store(key, token)
	}
	return ok, err
}

// Release drops the lease of the last TryAcquire on key through this
// instance.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	token, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	return l.ReleaseToken(ctx, key, token)
}

type localHolder struct {
	token     string
	expiresAt time.Time
}

// LocalLock is an in-process lease lock for single instance deployments
// and tests.
type LocalLock struct {
	holders *xsync.MapOf[string, localHolder]
	tokens  *xsync.MapOf[string, string]
	now     func() time.Time
}

var _ cache.LeaseLock = (*LocalLock)(nil)

func NewLocalLock() *LocalLock {
	return &LocalLock{
		holders: xsync.NewMapOf[string, localHolder](),
		tokens:  xsync.NewMapOf[string, string](),
		now:     time.Now,
	}
}

func (l *LocalLock) TryAcquireToken(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	now := l.now()
	token := uuid.NewString()

	holder, _ := l.holders.Compute(key, func(old localHolder, loaded bool) (localHolder, bool) {
		if loaded && now.Before(old.expiresAt) {
			return old, false
		}
		return localHolder{token: token, expiresAt: now.Add(ttl)}, false
	})
	if holder.token != token {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseToken drops key only while it still carries token.
func (l *LocalLock) ReleaseToken(_ context.Context, key, token string) error {
	l.holders.Compute(key, func(old localHolder, loaded bool) (localHolder, bool) {
		return old, !loaded || old.token == token
	})
	return nil
}

func (l *LocalLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token, ok, err := l.TryAcquireToken(ctx, key, ttl)
	if ok {
		l.tokens.Store(key, token)
	}
	return ok, err
}

// Release drops the lease of the last TryAcquire on key through this
// instance.
func (l *LocalLock) Release(ctx context.Context, key string) error {
	token, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	return l.ReleaseToken(ctx, key, token)
}
