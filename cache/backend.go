package cache

import (
	"context"
	"time"
)

// Backend is the key-value transport the cache repository writes to.
// Absence is reported with found=false (Get) or a nil slot (MGet); errors
// are reserved for an unreachable or failing backend.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// MGet returns one slot per key, aligned with keys.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
}

// PrefixDeleter is implemented by backends that can drop every key under a
// prefix, used to purge a whole named cache.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
