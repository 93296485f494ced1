package cacheinfra

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ByteStore is the key-value contract the breaker wraps. It matches
// cache.Backend.
type ByteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// BreakerConfig sets when the breaker opens and how it recovers.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that opens the breaker once
	// MinRequests calls were counted in the current interval.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig opens after half of at least ten calls fail and
// tries again after thirty seconds.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      10,
	}
}

// Validate checks the breaker settings.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		return &ConfigError{Field: "FailureThreshold", Message: "must be in (0, 1]"}
	}
	if c.Interval < 0 || c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "must be non-negative"}
	}
	return nil
}

// BreakerBackend fails fast while the wrapped backend keeps failing, so a
// dead Redis does not add a network timeout to every request.
type BreakerBackend struct {
	inner ByteStore
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerBackend wraps inner. State changes are logged on logger.
func NewBreakerBackend(inner ByteStore, cfg BreakerConfig, logger *slog.Logger) (*BreakerBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerBackend{inner: inner, cb: cb}, nil
}

// State reports the breaker state: closed, half-open or open.
func (b *BreakerBackend) State() string {
	return b.cb.State().String()
}

type getResult struct {
	data  []byte
	found bool
}

func (b *BreakerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		data, found, err := b.inner.Get(ctx, key)
		return getResult{data: data, found: found}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.data, r.found, nil
}

func (b *BreakerBackend) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.MGet(ctx, keys)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]byte), nil
}

func (b *BreakerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *BreakerBackend) Del(ctx context.Context, keys ...string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Del(ctx, keys...)
	})
	return err
}

// DeletePrefix forwards to the wrapped backend when it supports prefix
// deletes.
func (b *BreakerBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleter, ok := b.inner.(interface {
		DeletePrefix(ctx context.Context, prefix string) (int, error)
	})
	if !ok {
		return 0, errors.New("wrapped backend does not support prefix deletes")
	}
	v, err := b.cb.Execute(func() (interface{}, error) {
		return deleter.DeletePrefix(ctx, prefix)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
