// Package config loads the cache-aside settings from YAML and turns them
// into the values the cache and infrastructure packages are built from.
package config

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-cache-aside/cache"
	"github.com/goliatone/go-cache-aside/internal/cacheinfra"
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"

	EnvRedisAddr     = "CACHE_REDIS_ADDR"
	EnvRedisPassword = "CACHE_REDIS_PASSWORD"
)

// Config is the root of the YAML document.
type Config struct {
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig groups every cache setting.
type CacheConfig struct {
	Backend    string                `yaml:"backend"`
	Serializer string                `yaml:"serializer"`
	BatchSize  int                   `yaml:"batch_size"`
	Default    NamedCache            `yaml:"default"`
	Named      map[string]NamedCache `yaml:"named"`
	Local      LocalConfig           `yaml:"local"`
	Redis      RedisConfig           `yaml:"redis"`
	Lock       LockConfig            `yaml:"lock"`
}

// NamedCache is the YAML form of cache.NamedCacheConfig. The two policy
// flags are pointers so an omitted flag keeps the default instead of
// switching the policy off.
type NamedCache struct {
	TTL             time.Duration `yaml:"ttl"`
	KeyPrefix       string        `yaml:"key_prefix"`
	UseKeyPrefix    *bool         `yaml:"use_key_prefix"`
	CacheNullValues *bool         `yaml:"cache_null_values"`
}

// LocalConfig sizes the in-process backend.
type LocalConfig struct {
	Capacity           int           `yaml:"capacity"`
	NumShards          int           `yaml:"num_shards"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
}

// RedisConfig holds the connection settings. Addr is shorthand for a
// single entry in Addrs.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Addrs      []string      `yaml:"addrs"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	ScanCount  int64         `yaml:"scan_count"`
	LockPrefix string        `yaml:"lock_prefix"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards the Redis backend with a circuit breaker. Zero
// fields keep cacheinfra.DefaultBreakerConfig values.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LockConfig sets the lease of the distributed lock.
type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the settings used for omitted fields: a local backend,
// msgpack values and a five minute TTL with null caching on.
func Default() Config {
	local := cacheinfra.DefaultConfig()
	return Config{Cache: CacheConfig{
		Backend:    BackendLocal,
		Serializer: cache.CodecMsgpack,
		BatchSize:  20,
		Default:    NamedCache{TTL: cache.DefaultTTL},
		Local: LocalConfig{
			Capacity:           local.Capacity,
			NumShards:          local.NumShards,
			EvictionPercentage: local.EvictionPercentage,
			EvictionInterval:   local.EvictionInterval,
		},
		Redis: RedisConfig{Addr: "localhost:6379", ScanCount: 100, LockPrefix: "lock:"},
		Lock:  LockConfig{TTL: cacheinfra.DefaultLockTTL},
	}}
}

// Load reads path, applies the environment overrides and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e := goerrors.New("failed to read cache config "+path, goerrors.CategoryOperation).
			WithTextCode(cache.TextCodeInvalidConfig)
		e.Source = err
		return Config{}, e
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// Parse decodes data on top of Default. It does not validate.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		e := goerrors.New("malformed cache config", goerrors.CategoryValidation).
			WithTextCode(cache.TextCodeInvalidConfig)
		e.Source = err
		return Config{}, e
	}
	return cfg, nil
}

// ApplyEnv overrides the Redis address and password from lookup, usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisAddr); ok && strings.TrimSpace(v) != "" {
		c.Cache.Redis.Addrs = splitAddrs(v)
		c.Cache.Redis.Addr = ""
	}
	if v, ok := lookup(EnvRedisPassword); ok {
		c.Cache.Redis.Password = v
	}
}

func splitAddrs(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings. Named cache rules are checked again when
// the registry is built.
func (c Config) Validate() error {
	cc := c.Cache
	err := validation.ValidateStruct(&cc,
		validation.Field(&cc.Backend, validation.Required, validation.In(BackendLocal, BackendRedis)),
		validation.Field(&cc.Serializer, validation.In(cache.CodecMsgpack, cache.CodecJSON)),
		validation.Field(&cc.BatchSize, validation.Min(0)),
		validation.Field(&cc.Lock, validation.By(func(any) error {
			if cc.Lock.TTL < 0 {
				return validation.NewError("validation_lock_ttl", "lock ttl must not be negative")
			}
			return nil
		})),
		validation.Field(&cc.Redis, validation.When(cc.Backend == BackendRedis, validation.By(func(any) error {
			if len(cc.Redis.addrs()) == 0 {
				return validation.NewError("validation_redis_addr", "redis backend needs an address")
			}
			return nil
		}))),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid cache configuration").
			WithTextCode(cache.TextCodeInvalidConfig)
	}
	return nil
}

func (r RedisConfig) addrs() []string {
	if len(r.Addrs) > 0 {
		return r.Addrs
	}
	if r.Addr != "" {
		return []string{r.Addr}
	}
	return nil
}

// Registry builds the named cache registry.
func (c Config) Registry() (*cache.Registry, error) {
	overrides := make([]cache.NamedCacheConfig, 0, len(c.Cache.Named))
	for name, nc := range c.Cache.Named {
		o := nc.toNamed()
		o.Name = name
		overrides = append(overrides, o)
	}
	return cache.NewRegistry(c.Cache.Default.toNamed(), overrides...)
}

func (n NamedCache) toNamed() cache.NamedCacheConfig {
	return cache.NamedCacheConfig{
		TTL:               n.TTL,
		KeyPrefix:         n.KeyPrefix,
		DisableKeyPrefix:  n.UseKeyPrefix != nil && !*n.UseKeyPrefix,
		DisableNullValues: n.CacheNullValues != nil && !*n.CacheNullValues,
	}
}

// Codec returns the configured value codec.
func (c Config) Codec() (cache.Codec, error) {
	return cache.CodecFor(c.Cache.Serializer)
}

// LocalBackend returns the settings of the in-process backend. Its TTL is
// the longest TTL of any named cache, which caps per-entry lifetimes.
func (c Config) LocalBackend(maxTTL time.Duration) cacheinfra.Config {
	cfg := cacheinfra.DefaultConfig()
	l := c.Cache.Local
	if l.Capacity > 0 {
		cfg.Capacity = l.Capacity
	}
	if l.NumShards > 0 {
		cfg.NumShards = l.NumShards
	}
	if l.EvictionPercentage > 0 {
		cfg.EvictionPercentage = l.EvictionPercentage
	}
	cfg.EvictionInterval = l.EvictionInterval
	if maxTTL > 0 {
		cfg.TTL = maxTTL
	}
	return cfg
}

// Breaker returns the circuit breaker settings of the Redis backend and
// whether it is enabled.
func (c Config) Breaker() (cacheinfra.BreakerConfig, bool) {
	b := c.Cache.Redis.Breaker
	cfg := cacheinfra.DefaultBreakerConfig("cache-" + c.Cache.Backend)
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.MinRequests > 0 {
		cfg.MinRequests = b.MinRequests
	}
	if b.Timeout > 0 {
		cfg.Timeout = b.Timeout
	}
	return cfg, b.Enabled
}

// RedisBackend returns the Redis connection settings.
func (c Config) RedisBackend() cacheinfra.RedisConfig {
	r := c.Cache.Redis
	return cacheinfra.RedisConfig{
		Addrs:     r.addrs(),
		Password:  r.Password,
		DB:        r.DB,
		PoolSize:  r.PoolSize,
		ScanCount: r.ScanCount,
	}
}
