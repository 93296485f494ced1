// Package di wires the cache-aside components from a config.Config.
package di

import (
	"context"
	"database/sql"
	"io"
	"log/slog"

	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/goliatone/go-cache-aside/cache"
	"github.com/goliatone/go-cache-aside/internal/cacheinfra"
	"github.com/goliatone/go-cache-aside/pkg/config"
	"github.com/goliatone/go-cache-aside/repositorycache"
)

// Container holds the process-wide cache components: one backend, one
// codec, one registry and one lock, shared by every cached repository.
type Container struct {
	cfg      config.Config
	registry *cache.Registry
	codec    cache.Codec
	backend  cache.Backend
	lock     cache.DistributedLock
	redis    redis.UniversalClient
	ownRedis bool
	logger   *slog.Logger
	metrics  cache.Metrics
	promReg  prometheus.Registerer
	promNS   string
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the cache event sink.
func WithMetrics(metrics cache.Metrics) Option {
	return func(c *Container) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithPrometheus registers cache counters on reg under namespace.
func WithPrometheus(namespace string, reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.promNS = namespace
		c.promReg = reg
	}
}

// WithRedisClient uses client instead of dialing one from the config. The
// caller keeps ownership; Close does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// NewContainer validates cfg and builds the components it selects.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: cache.NoopMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	c.registry = registry

	if c.codec, err = cfg.Codec(); err != nil {
		return nil, err
	}

	if c.promReg != nil {
		m, err := cache.NewPrometheusMetrics(c.promNS, c.promReg)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		if err := c.openRedis(); err != nil {
			return nil, err
		}
	default:
		backend, err := cacheinfra.NewSturdycBackend(cfg.LocalBackend(registry.MaxTTL()))
		if err != nil {
			return nil, err
		}
		c.backend = backend
		c.lock = cacheinfra.NewLocalLock()
	}

	c.logger.Info("cache container ready",
		"backend", cfg.Cache.Backend,
		"serializer", c.codec.Name(),
		"named_caches", registry.Names(),
	)
	return c, nil
}

func (c *Container) openRedis() error {
	rcfg := c.cfg.RedisBackend()
	if c.redis == nil {
		client, err := cacheinfra.NewRedisClient(rcfg)
		if err != nil {
			return err
		}
		c.redis = client
		c.ownRedis = true
	}
	backend := cacheinfra.NewRedisBackend(c.redis, rcfg.ScanCount)
	c.backend = backend
	if bcfg, enabled := c.cfg.Breaker(); enabled {
		guarded, err := cacheinfra.NewBreakerBackend(backend, bcfg, c.logger)
		if err != nil {
			return err
		}
		c.backend = guarded
	}
	c.lock = cacheinfra.NewRedisLock(c.redis, c.cfg.Cache.Redis.LockPrefix)
	return nil
}

// NewContainerWithDefaults builds a container with a local backend and
// default settings.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

func (c *Container) Config() config.Config       { return c.cfg }
func (c *Container) Registry() *cache.Registry   { return c.registry }
func (c *Container) Codec() cache.Codec          { return c.codec }
func (c *Container) Backend() cache.Backend      { return c.backend }
func (c *Container) Lock() cache.DistributedLock { return c.lock }
func (c *Container) Logger() *slog.Logger        { return c.logger }

// WithLock runs fn while holding key on the container's lock, using the
// configured lease.
func (c *Container) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	return cache.WithLock(ctx, c.lock, key, c.cfg.Cache.Lock.TTL, fn)
}

// Ping checks the backend. The local backend is always reachable.
func (c *Container) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return cache.BackendError(err, "ping")
	}
	return nil
}

// Close releases the Redis client when the container opened it.
func (c *Container) Close() error {
	if c.ownRedis && c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// NewCacheService returns a cache repository for T over the container's
// backend. Go methods cannot have type parameters, so this and the
// repository factories are package functions.
func NewCacheService[T any](c *Container) *cache.Repository[T] {
	return cache.NewRepository[T](c.backend, c.registry,
		cache.WithCodec(c.codec),
		cache.WithLogger(c.logger),
		cache.WithMetrics(c.metrics),
	)
}

// NewCachedRepository wraps store with cache-aside behaviour under
// namespace. The configured batch size applies unless opts override it.
// GetByKey lookups are cached in the "<namespace>_key" named cache; pass
// repositorycache.WithIndexCache to use another one.
func NewCachedRepository[T any, K comparable](c *Container, store repositorycache.Store[T, K], namespace string, opts ...repositorycache.Option) *repositorycache.CachedRepository[T, K] {
	base := []repositorycache.Option{
		repositorycache.WithBatchSize(c.cfg.Cache.BatchSize),
		repositorycache.WithLogger(c.logger),
		repositorycache.WithIndexCache[K](NewCacheService[K](c), ""),
	}
	return repositorycache.New[T, K](store, NewCacheService[T](c), namespace, append(base, opts...)...)
}

// NewBunCachedRepository wraps a go-repository-bun repository keyed by its
// string primary key.
func NewBunCachedRepository[T any](c *Container, repo repository.Repository[T], namespace string, opts ...repositorycache.Option) *repositorycache.CachedRepository[T, string] {
	return NewCachedRepository[T, string](c, repositorycache.NewBunStore[T](repo, ""), namespace, opts...)
}

// OpenPostgres opens a bun database over lib/pq. The connection is lazy;
// the first query dials.
func OpenPostgres(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "open postgres")
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
