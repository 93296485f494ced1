package cache

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DistributedLock is a mutual exclusion primitive shared across processes.
// The cache-aside paths never take it on their own; callers use it to
// serialize expensive rebuilds of hot keys.
type DistributedLock interface {
	// TryAcquire returns false without blocking when key is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops the lease on key most recently taken through this
	// instance, if it is still current. Callers that share one instance
	// across goroutines should prefer a LeaseLock, which releases exactly
	// the acquisition that took it.
	Release(ctx context.Context, key string) error
}

// LeaseLock is a DistributedLock that names every acquisition with a token.
// ReleaseToken only drops the lease while it still carries token, so a
// holder whose lease expired cannot release the next holder's lease.
type LeaseLock interface {
	DistributedLock
	TryAcquireToken(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseToken(ctx context.Context, key, token string) error
}

// WithLock runs fn while holding key. It returns a LOCK_NOT_ACQUIRED error
// when another holder owns the key. Locks implementing LeaseLock are
// released by token.
func WithLock(ctx context.Context, lock DistributedLock, key string, ttl time.Duration, fn func(context.Context) error) (err error) {
	acquire, release := plainLease(lock)
	if ll, ok := lock.(LeaseLock); ok {
		acquire, release = tokenLease(ll)
	}

	token, ok, err := acquire(ctx, key, ttl)
	if err != nil {
		return BackendError(err, "lock acquire", key)
	}
	if !ok {
		return goerrors.New("lock "+key+" is held", CategoryCacheBackend).
			WithTextCode(TextCodeLockNotAcquired).
			WithSeverity(goerrors.SeverityWarning)
	}

	defer func() {
		if rerr := release(ctx, key, token); rerr != nil && err == nil {
			err = BackendError(rerr, "lock release", key)
		}
	}()

	return fn(ctx)
}

type (
	acquireFn func(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	releaseFn func(ctx context.Context, key, token string) error
)

func plainLease(lock DistributedLock) (acquireFn, releaseFn) {
	acquire := func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
		ok, err := lock.TryAcquire(ctx, key, ttl)
		return "", ok, err
	}
	release := func(ctx context.Context, key, _ string) error {
		return lock.Release(ctx, key)
	}
	return acquire, release
}

func tokenLease(lock LeaseLock) (acquireFn, releaseFn) {
	return lock.TryAcquireToken, lock.ReleaseToken
}
