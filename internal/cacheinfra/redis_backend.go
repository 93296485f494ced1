package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings of the Redis backend.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
	PoolSize int
	// ScanCount is the COUNT hint used when scanning for DeletePrefix.
	ScanCount int64
}

// Validate checks the connection settings.
func (c RedisConfig) Validate() error {
	if len(c.Addrs) == 0 {
		return &ConfigError{Field: "Addrs", Message: "must contain at least one address"}
	}
	for _, addr := range c.Addrs {
		if strings.TrimSpace(addr) == "" {
			return &ConfigError{Field: "Addrs", Message: "must not contain empty addresses"}
		}
	}
	if c.DB < 0 {
		return &ConfigError{Field: "DB", Message: "must be non-negative"}
	}
	if c.PoolSize < 0 {
		return &ConfigError{Field: "PoolSize", Message: "must be non-negative"}
	}
	return nil
}

// NewRedisClient opens a universal client: a single node for one address,
// a cluster client for several.
func NewRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), nil
}

// RedisBackend stores entries in Redis with native key expiry.
type RedisBackend struct {
	client    redis.UniversalClient
	scanCount int64
}

// NewRedisBackend wraps an existing client. scanCount <= 0 uses 100.
func NewRedisBackend(client redis.UniversalClient, scanCount int64) *RedisBackend {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisBackend{client: client, scanCount: scanCount}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBackend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if b.cluster() {
		return b.mgetPipelined(ctx, keys)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(keys))
	for i, v := range values {
		switch val := v.(type) {
		case nil:
		case string:
			out[i] = []byte(val)
		case []byte:
			out[i] = val
		default:
			return nil, fmt.Errorf("unexpected mget value type %T for key %s", v, keys[i])
		}
	}
	return out, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if b.cluster() && len(keys) > 1 {
		_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	}
	return b.client.Del(ctx, keys...).Err()
}

// cluster reports whether keys may live on different slots, where MGET and
// multi-key DEL are rejected with CROSSSLOT.
func (b *RedisBackend) cluster() bool {
	_, ok := b.client.(*redis.ClusterClient)
	return ok
}

func (b *RedisBackend) mgetPipelined(ctx context.Context, keys []string) ([][]byte, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([][]byte, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// DeletePrefix scans for keys under prefix and deletes them in batches. On
// a cluster every master is scanned.
func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	cc, ok := b.client.(*redis.ClusterClient)
	if !ok {
		return b.deletePrefix(ctx, b.client, prefix)
	}

	var deleted atomic.Int64
	err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		n, err := b.deletePrefix(ctx, node, prefix)
		deleted.Add(int64(n))
		return err
	})
	return int(deleted.Load()), err
}

func (b *RedisBackend) deletePrefix(ctx context.Context, client redis.Cmdable, prefix string) (int, error) {
	// Deleting while SCAN iterates makes the cursor skip keys, so the scan
	// completes before anything is removed.
	var keys []string
	iter := client.Scan(ctx, 0, escapeGlob(prefix)+"*", b.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += int(b.scanCount) {
		end := min(start+int(b.scanCount), len(keys))
		cmds := make([]*redis.IntCmd, 0, end-start)
		_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys[start:end] {
				cmds = append(cmds, pipe.Del(ctx, key))
			}
			return nil
		})
		for _, cmd := range cmds {
			deleted += int(cmd.Val())
		}
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
