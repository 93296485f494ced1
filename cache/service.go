package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"
)

// LoaderFn loads the record addressed by key from the source of truth.
// found=false means the store confirmed the record does not exist.
type LoaderFn[T any] func(ctx context.Context, key CacheKey) (value T, found bool, err error)

// Lookup is one aligned slot of a Find result. Null is set when the entry
// holds the null sentinel, i.e. the record is known to be absent upstream.
// A slot with neither Found nor Null was not cached at all.
type Lookup[T any] struct {
	Value T
	Found bool
	Null  bool
}

// Miss reports whether the slot must be loaded from the store.
func (l Lookup[T]) Miss() bool {
	return !l.Found && !l.Null
}

// CacheService is the cache repository contract used by the cache-aside
// orchestrator.
type CacheService[T any] interface {
	// Get returns the cached record, or invokes loader on a miss and writes
	// its result back. A cached null sentinel yields found=false without
	// calling loader.
	Get(ctx context.Context, key CacheKey, loader LoaderFn[T]) (T, bool, error)
	// Find reads keys without loading. The result is aligned with keys.
	Find(ctx context.Context, keys ...CacheKey) ([]Lookup[T], error)
	// Set writes value, replacing any entry including a null sentinel.
	Set(ctx context.Context, key CacheKey, value T) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...CacheKey) error
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	codec   Codec
	logger  *slog.Logger
	metrics Metrics
}

// WithCodec selects the codec for stored values. Defaults to msgpack.
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the event sink. Defaults to NoopMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// Repository implements CacheService over a Backend. Policies (TTL, key
// prefix, null caching) come from the Registry, resolved per key namespace.
type Repository[T any] struct {
	backend  Backend
	registry *Registry
	codec    Codec
	logger   *slog.Logger
	metrics  Metrics
}

var _ CacheService[struct{}] = (*Repository[struct{}])(nil)

// NewRepository builds a repository. A nil registry uses an all-default one.
func NewRepository[T any](backend Backend, registry *Registry, opts ...Option) *Repository[T] {
	o := options{
		codec:   MsgpackCodec{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if registry == nil {
		registry, _ = NewRegistry(NamedCacheConfig{})
	}

	return &Repository[T]{
		backend:  backend,
		registry: registry,
		codec:    o.codec,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Config returns the effective policy of a named cache.
func (r *Repository[T]) Config(namespace string) EffectiveConfig {
	return r.registry.Resolve(namespace)
}

func (r *Repository[T]) Get(ctx context.Context, key CacheKey, loader LoaderFn[T]) (T, bool, error) {
	var zero T
	if loader == nil {
		return zero, false, goerrors.New("cache get requires a loader", goerrors.CategoryBadInput)
	}

	cfg := r.registry.Resolve(key.Namespace)
	storageKey := cfg.StorageKey(key)

	raw, found, err := r.backend.Get(ctx, storageKey)
	if err != nil {
		return zero, false, r.backendFailure(ctx, []string{key.Namespace}, "get", err, storageKey)
	}

	if found {
		var value T
		isNull, err := decodeEnvelope(r.codec, raw, &value)
		if err != nil {
			return zero, false, CodecError(err, storageKey)
		}
		if isNull {
			r.metrics.Record(key.Namespace, EventNullHit, 1)
			return zero, false, nil
		}
		r.metrics.Record(key.Namespace, EventHit, 1)
		return value, true, nil
	}

	r.metrics.Record(key.Namespace, EventMiss, 1)

	value, ok, err := loader(ctx, key)
	if err != nil {
		return zero, false, err
	}
	r.metrics.Record(key.Namespace, EventLoad, 1)

	if ok {
		if err := r.write(ctx, cfg, storageKey, value); err != nil {
			return zero, false, err
		}
		return value, true, nil
	}

	if cfg.CacheNullValues {
		if err := r.backend.Set(ctx, storageKey, nullEnvelope, cfg.TTL); err != nil {
			return zero, false, r.backendFailure(ctx, []string{key.Namespace}, "set", err, storageKey)
		}
		r.metrics.Record(key.Namespace, EventNullStored, 1)
		r.logger.DebugContext(ctx, "cached null sentinel", "key", storageKey, "ttl", cfg.TTL)
	}

	return zero, false, nil
}

func (r *Repository[T]) Find(ctx context.Context, keys ...CacheKey) ([]Lookup[T], error) {
	if len(keys) == 0 {
		return nil, nil
	}

	storageKeys := make([]string, len(keys))
	for i, key := range keys {
		storageKeys[i] = r.registry.Resolve(key.Namespace).StorageKey(key)
	}

	slots, err := r.backend.MGet(ctx, storageKeys)
	if err != nil {
		return nil, r.backendFailure(ctx, namespacesOf(keys), "mget", err, storageKeys...)
	}
	if len(slots) != len(keys) {
		return nil, BackendError(fmt.Errorf("mget returned %d values for %d keys", len(slots), len(keys)), "mget")
	}

	out := make([]Lookup[T], len(keys))
	for i, raw := range slots {
		ns := keys[i].Namespace
		if raw == nil {
			r.metrics.Record(ns, EventMiss, 1)
			continue
		}
		isNull, err := decodeEnvelope(r.codec, raw, &out[i].Value)
		if err != nil {
			return nil, CodecError(err, storageKeys[i])
		}
		if isNull {
			out[i].Null = true
			r.metrics.Record(ns, EventNullHit, 1)
			continue
		}
		out[i].Found = true
		r.metrics.Record(ns, EventHit, 1)
	}
	return out, nil
}

func (r *Repository[T]) Set(ctx context.Context, key CacheKey, value T) error {
	cfg := r.registry.Resolve(key.Namespace)
	return r.write(ctx, cfg, cfg.StorageKey(key), value)
}

func (r *Repository[T]) write(ctx context.Context, cfg EffectiveConfig, storageKey string, value T) error {
	data, err := encodeEnvelope(r.codec, value)
	if err != nil {
		return CodecError(err, storageKey)
	}
	if err := r.backend.Set(ctx, storageKey, data, cfg.TTL); err != nil {
		return r.backendFailure(ctx, []string{cfg.Name}, "set", err, storageKey)
	}
	r.metrics.Record(cfg.Name, EventSet, 1)
	return nil
}

func (r *Repository[T]) Delete(ctx context.Context, keys ...CacheKey) error {
	if len(keys) == 0 {
		return nil
	}

	storageKeys := make([]string, len(keys))
	for i, key := range keys {
		storageKeys[i] = r.registry.Resolve(key.Namespace).StorageKey(key)
	}

	if err := r.backend.Del(ctx, storageKeys...); err != nil {
		return r.backendFailure(ctx, namespacesOf(keys), "del", err, storageKeys...)
	}
	for _, key := range keys {
		r.metrics.Record(key.Namespace, EventInvalidate, 1)
	}
	return nil
}

// Purge drops every entry of a named cache. It needs a backend that
// implements PrefixDeleter and a cache that keeps its key prefix.
func (r *Repository[T]) Purge(ctx context.Context, namespace string) (int, error) {
	cfg := r.registry.Resolve(namespace)
	deleter, ok := r.backend.(PrefixDeleter)
	if !ok || !cfg.UseKeyPrefix {
		return 0, goerrors.New("purge is not supported for cache "+namespace, goerrors.CategoryOperation)
	}

	n, err := deleter.DeletePrefix(ctx, cfg.Prefix)
	if err != nil {
		return n, r.backendFailure(ctx, []string{namespace}, "delete prefix", err, cfg.Prefix)
	}
	r.metrics.Record(namespace, EventInvalidate, n)
	return n, nil
}

func (r *Repository[T]) backendFailure(ctx context.Context, namespaces []string, op string, err error, keys ...string) error {
	for _, ns := range namespaces {
		r.metrics.Record(ns, EventBackendError, 1)
	}
	wrapped := BackendError(err, op, keys...)
	logError(ctx, r.logger, "cache backend failure", wrapped)
	return wrapped
}

// namespacesOf lists the distinct namespaces of keys in input order.
func namespacesOf(keys []CacheKey) []string {
	seen := make(map[string]struct{}, 1)
	var out []string
	for _, key := range keys {
		if _, ok := seen[key.Namespace]; ok {
			continue
		}
		seen[key.Namespace] = struct{}{}
		out = append(out, key.Namespace)
	}
	return out
}
