package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config sizes the in-process sturdyc backend.
type Config struct {
	// Capacity is the entry count at which sturdyc starts evicting.
	Capacity int

	// NumShards splits the key space to reduce lock contention. Default 256.
	NumShards int

	// TTL is the lifetime ceiling of the sturdyc client. Entries written
	// with a shorter TTL expire earlier through their own deadline; entries
	// asking for more are capped here.
	TTL time.Duration

	// EvictionPercentage is the share of entries (1-100) dropped when the
	// cache is full.
	EvictionPercentage int

	// EvictionInterval is how often sturdyc sweeps expired entries. Zero
	// keeps the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns the sizing used when no local section is configured.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate returns a *ConfigError naming the first invalid field.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError reports an invalid backend setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

type sturdycEntry struct {
	data      []byte
	expiresAt time.Time
}

// SturdycBackend is an in-process backend on top of a sturdyc client.
// sturdyc applies one TTL to the whole client, so every entry also carries
// its own deadline and is treated as absent once that passes.
type SturdycBackend struct {
	client  *sturdyc.Client[sturdycEntry]
	ceiling time.Duration
	now     func() time.Time
}

// NewSturdycBackend validates cfg and creates the sturdyc client.
func NewSturdycBackend(cfg Config) (*SturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[sturdycEntry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycBackend{client: client, ceiling: cfg.TTL, now: time.Now}, nil
}

func (b *SturdycBackend) lookup(key string, entry sturdycEntry, ok bool) ([]byte, bool) {
	if !ok {
		return nil, false
	}
	if !b.now().Before(entry.expiresAt) {
		b.client.Delete(key)
		return nil, false
	}
	return entry.data, true
}

func (b *SturdycBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := b.client.Get(key)
	data, found := b.lookup(key, entry, ok)
	return data, found, nil
}

func (b *SturdycBackend) MGet(_ context.Context, keys []string) ([][]byte, error) {
	entries := b.client.GetMany(keys)
	out := make([][]byte, len(keys))
	for i, key := range keys {
		entry, ok := entries[key]
		out[i], _ = b.lookup(key, entry, ok)
	}
	return out, nil
}

func (b *SturdycBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > b.ceiling {
		ttl = b.ceiling
	}
	data := make([]byte, len(value))
	copy(data, value)
	b.client.Set(key, sturdycEntry{data: data, expiresAt: b.now().Add(ttl)})
	return nil
}

func (b *SturdycBackend) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		b.client.Delete(key)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (b *SturdycBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, key := range b.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			b.client.Delete(key)
			n++
		}
	}
	return n, nil
}

// Size returns the number of entries held, including expired entries not
// yet evicted.
func (b *SturdycBackend) Size() int {
	return b.client.Size()
}
