package cache

import (
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultTTL applies when neither the default config nor a named override
// sets a TTL.
const DefaultTTL = 5 * time.Minute

// NamedCacheConfig is the per-cache policy. Zero values mean "not set":
// a zero TTL inherits the default TTL, an empty KeyPrefix on a named cache
// derives the prefix from the cache name alone. The default KeyPrefix only
// applies to names without an override. Both boolean policies default to enabled and
// are only switched off explicitly.
type NamedCacheConfig struct {
	Name              string
	TTL               time.Duration
	KeyPrefix         string
	DisableKeyPrefix  bool
	DisableNullValues bool
}

// Validate checks a single config entry.
func (c NamedCacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Min(time.Duration(0)).Error("must not be negative")),
		validation.Field(&c.KeyPrefix, validation.By(noSeparatorSuffix)),
	)
}

func noSeparatorSuffix(value any) error {
	s, _ := value.(string)
	if strings.HasSuffix(s, KeySeparator) {
		return validation.NewError("validation_key_prefix", "must not end with "+KeySeparator)
	}
	return nil
}

// EffectiveConfig is the resolved policy of one named cache.
type EffectiveConfig struct {
	Name            string
	TTL             time.Duration
	Prefix          string
	UseKeyPrefix    bool
	CacheNullValues bool
}

// StorageKey renders the backend key for k under this policy.
func (c EffectiveConfig) StorageKey(k CacheKey) string {
	if !c.UseKeyPrefix {
		return k.Identity
	}
	return c.Prefix + k.Identity
}

// Registry holds the effective configuration of every named cache. It is
// built once and read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	defaults NamedCacheConfig
	resolved map[string]EffectiveConfig
}

// NewRegistry overlays each override onto def. Overrides must be named and
// unique.
func NewRegistry(def NamedCacheConfig, overrides ...NamedCacheConfig) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, configError(err, "invalid default cache config")
	}
	if def.TTL == 0 {
		def.TTL = DefaultTTL
	}

	r := &Registry{
		defaults: def,
		resolved: make(map[string]EffectiveConfig, len(overrides)),
	}

	for _, o := range overrides {
		err := validation.ValidateStruct(&o,
			validation.Field(&o.Name, validation.Required, validation.By(r.unique)),
		)
		if err == nil {
			err = o.Validate()
		}
		if err != nil {
			return nil, configError(err, "invalid cache config "+o.Name)
		}
		r.resolved[o.Name] = overlay(def, o)
	}

	return r, nil
}

func (r *Registry) unique(value any) error {
	name, _ := value.(string)
	if _, ok := r.resolved[name]; ok {
		return validation.NewError("validation_unique", "duplicate cache name")
	}
	return nil
}

func configError(err error, message string) error {
	return goerrors.FromOzzoValidation(err, message).WithTextCode(TextCodeInvalidConfig)
}

// overlay applies o on top of def. The key prefix is not inherited: a
// registered cache without its own key prefix is stored under "name:".
func overlay(def, o NamedCacheConfig) EffectiveConfig {
	ttl := def.TTL
	if o.TTL > 0 {
		ttl = o.TTL
	}

	return EffectiveConfig{
		Name:            o.Name,
		TTL:             ttl,
		Prefix:          composePrefix(o.KeyPrefix, o.Name),
		UseKeyPrefix:    !def.DisableKeyPrefix && !o.DisableKeyPrefix,
		CacheNullValues: !def.DisableNullValues && !o.DisableNullValues,
	}
}

func composePrefix(keyPrefix, name string) string {
	if keyPrefix == "" {
		return name + KeySeparator
	}
	return keyPrefix + KeySeparator + name + KeySeparator
}

// Resolve returns the effective config for name. Unknown names fall back to
// the default config, key prefix included, with the name appended. Resolve
// never fails.
func (r *Registry) Resolve(name string) EffectiveConfig {
	if cfg, ok := r.resolved[name]; ok {
		return cfg
	}
	return overlay(r.defaults, NamedCacheConfig{Name: name, KeyPrefix: r.defaults.KeyPrefix})
}

// Default returns the default config with its TTL filled in.
func (r *Registry) Default() NamedCacheConfig {
	return r.defaults
}

// MaxTTL is the longest TTL any named cache may use. In-process backends
// size their entry lifetime ceiling from it.
func (r *Registry) MaxTTL() time.Duration {
	max := r.defaults.TTL
	for _, cfg := range r.resolved {
		if cfg.TTL > max {
			max = cfg.TTL
		}
	}
	return max
}

// Names lists the caches that have an explicit override, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resolved))
	for name := range r.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
