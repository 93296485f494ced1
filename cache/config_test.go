package cache

import (
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	registry, err := NewRegistry(
		NamedCacheConfig{TTL: time.Hour},
		NamedCacheConfig{Name: "user", TTL: 60 * time.Second},
		NamedCacheConfig{Name: "order", KeyPrefix: "shop"},
		NamedCacheConfig{Name: "session", DisableNullValues: true},
		NamedCacheConfig{Name: "flat", DisableKeyPrefix: true, KeyPrefix: "ignored"},
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		want EffectiveConfig
	}{
		{
			name: "user",
			want: EffectiveConfig{Name: "user", TTL: 60 * time.Second, Prefix: "user:", UseKeyPrefix: true, CacheNullValues: true},
		},
		{
			name: "order",
			want: EffectiveConfig{Name: "order", TTL: time.Hour, Prefix: "shop:order:", UseKeyPrefix: true, CacheNullValues: true},
		},
		{
			name: "session",
			want: EffectiveConfig{Name: "session", TTL: time.Hour, Prefix: "session:", UseKeyPrefix: true, CacheNullValues: false},
		},
		{
			name: "flat",
			want: EffectiveConfig{Name: "flat", TTL: time.Hour, Prefix: "ignored:flat:", UseKeyPrefix: false, CacheNullValues: true},
		},
		{
			name: "unknown",
			want: EffectiveConfig{Name: "unknown", TTL: time.Hour, Prefix: "unknown:", UseKeyPrefix: true, CacheNullValues: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, registry.Resolve(tt.name))
		})
	}
}

func TestRegistry_UserNamespaceWithoutPrefix(t *testing.T) {
	registry, err := NewRegistry(
		NamedCacheConfig{TTL: 60 * time.Second},
		NamedCacheConfig{Name: "user"},
	)
	require.NoError(t, err)

	cfg := registry.Resolve("user")
	assert.Equal(t, "user:", cfg.Prefix)
	assert.Equal(t, 60*time.Second, cfg.TTL)
	assert.Equal(t, "user:42", cfg.StorageKey(NewKeyBuilder("user").Key(42)))
}

func TestRegistry_DefaultPolicies(t *testing.T) {
	registry, err := NewRegistry(
		NamedCacheConfig{KeyPrefix: "app", DisableNullValues: true},
		NamedCacheConfig{Name: "user", TTL: time.Minute},
	)
	require.NoError(t, err)

	cfg := registry.Resolve("user")
	assert.Equal(t, "user:", cfg.Prefix, "a registered cache does not inherit the default key prefix")
	assert.False(t, cfg.CacheNullValues, "an override cannot re-enable a policy disabled by the default")
	assert.Equal(t, "app:other:", registry.Resolve("other").Prefix)

	assert.Equal(t, DefaultTTL, registry.Resolve("other").TTL)
	assert.Equal(t, DefaultTTL, registry.Default().TTL)
}

func TestRegistry_StorageKeyWithoutPrefix(t *testing.T) {
	registry, err := NewRegistry(NamedCacheConfig{DisableKeyPrefix: true})
	require.NoError(t, err)

	key := NewKeyBuilder("user").Key(42)
	assert.Equal(t, "42", registry.Resolve("user").StorageKey(key))
}

func TestRegistry_MaxTTLAndNames(t *testing.T) {
	registry, err := NewRegistry(
		NamedCacheConfig{TTL: time.Minute},
		NamedCacheConfig{Name: "b", TTL: time.Hour},
		NamedCacheConfig{Name: "a", TTL: time.Second},
	)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, registry.MaxTTL())
	assert.Equal(t, []string{"a", "b"}, registry.Names())
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name      string
		def       NamedCacheConfig
		overrides []NamedCacheConfig
	}{
		{name: "negative default ttl", def: NamedCacheConfig{TTL: -time.Second}},
		{name: "unnamed override", overrides: []NamedCacheConfig{{TTL: time.Second}}},
		{name: "duplicate override", overrides: []NamedCacheConfig{{Name: "user"}, {Name: "user"}}},
		{name: "negative override ttl", overrides: []NamedCacheConfig{{Name: "user", TTL: -1}}},
		{name: "prefix ends with separator", overrides: []NamedCacheConfig{{Name: "user", KeyPrefix: "app:"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.def, tt.overrides...)
			require.Error(t, err)
			assert.True(t, goerrors.IsValidation(err))

			var e *goerrors.Error
			require.True(t, goerrors.As(err, &e))
			assert.Equal(t, TextCodeInvalidConfig, e.TextCode)
		})
	}
}
