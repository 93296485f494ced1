package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-cache-aside/cache"
	"github.com/goliatone/go-cache-aside/pkg/testsupport"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendLocal, cfg.Cache.Backend)
	assert.Equal(t, cache.CodecMsgpack, cfg.Cache.Serializer)
	assert.Equal(t, 20, cfg.Cache.BatchSize)

	registry, err := cfg.Registry()
	require.NoError(t, err)
	eff := registry.Resolve("user")
	assert.Equal(t, cache.DefaultTTL, eff.TTL)
	assert.Equal(t, "user:", eff.Prefix)
	assert.True(t, eff.UseKeyPrefix)
	assert.True(t, eff.CacheNullValues)
}

func TestParse_Fixture(t *testing.T) {
	cfg, err := Parse(testsupport.LoadFixture(t, testsupport.FixturePath("cache.yaml")))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 50, cfg.Cache.BatchSize)
	assert.Equal(t, time.Hour, cfg.Cache.Default.TTL)
	assert.Equal(t, 15*time.Second, cfg.Cache.Lock.TTL)
	assert.Equal(t, "lock:", cfg.Cache.Redis.LockPrefix, "omitted fields keep defaults")

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, cache.CodecJSON, codec.Name())

	redisCfg := cfg.RedisBackend()
	assert.Equal(t, []string{"redis.internal:6379"}, redisCfg.Addrs)
	assert.Equal(t, 2, redisCfg.DB)
	assert.Equal(t, 16, redisCfg.PoolSize)
	require.NoError(t, redisCfg.Validate())

	breaker, enabled := cfg.Breaker()
	assert.True(t, enabled)
	assert.Equal(t, uint32(4), breaker.MinRequests)
	assert.Equal(t, 0.5, breaker.FailureThreshold)
	require.NoError(t, breaker.Validate())

	local := cfg.LocalBackend(2 * time.Hour)
	assert.Equal(t, 500, local.Capacity)
	assert.Equal(t, 8, local.NumShards)
	assert.Equal(t, 10, local.EvictionPercentage)
	assert.Equal(t, 2*time.Hour, local.TTL)
	require.NoError(t, local.Validate())
}

func TestRegistry_Golden(t *testing.T) {
	cfg, err := Parse(testsupport.LoadFixture(t, testsupport.FixturePath("cache.yaml")))
	require.NoError(t, err)

	registry, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, registry.MaxTTL())

	var b strings.Builder
	for _, name := range append(registry.Names(), "order") {
		eff := registry.Resolve(name)
		fmt.Fprintf(&b, "%s ttl=%s prefix=%s key_prefix=%t null_values=%t\n",
			name, eff.TTL, eff.Prefix, eff.UseKeyPrefix, eff.CacheNullValues)
	}
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("registry.txt"), []byte(b.String()))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvRedisAddr, "10.0.0.1:6379, 10.0.0.2:6379")
	t.Setenv(EnvRedisPassword, "s3cret")

	cfg, err := Load(testsupport.FixturePath("cache.yaml"))
	require.NoError(t, err)

	redisCfg := cfg.RedisBackend()
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, redisCfg.Addrs)
	assert.Equal(t, "s3cret", redisCfg.Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(testsupport.FixturePath("missing.yaml"))
	require.Error(t, err)

	var gerr *goerrors.Error
	require.True(t, goerrors.As(err, &gerr))
	assert.Equal(t, cache.TextCodeInvalidConfig, gerr.TextCode)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("cache: [unterminated"))
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"empty backend", func(c *Config) { c.Cache.Backend = "" }},
		{"unknown serializer", func(c *Config) { c.Cache.Serializer = "protostuff" }},
		{"negative batch size", func(c *Config) { c.Cache.BatchSize = -1 }},
		{"negative lock ttl", func(c *Config) { c.Cache.Lock.TTL = -time.Second }},
		{"redis without address", func(c *Config) {
			c.Cache.Backend = BackendRedis
			c.Cache.Redis.Addr = ""
			c.Cache.Redis.Addrs = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, goerrors.IsValidation(err))
		})
	}
}

func TestRegistry_InvalidNamedCache(t *testing.T) {
	cfg := Default()
	cfg.Cache.Named = map[string]NamedCache{"user": {KeyPrefix: "app:"}}

	_, err := cfg.Registry()
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))
}
