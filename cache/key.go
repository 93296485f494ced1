package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator joins the namespace prefix and the identity of a storage key.
const KeySeparator = ":"

// CacheKey addresses one cached record: the named cache it belongs to and
// the stringified record identity. Two keys are equal iff both fields are.
type CacheKey struct {
	Namespace string
	Identity  string
}

// String renders the key as namespace:identity. The key actually written to
// the backend is produced by EffectiveConfig.StorageKey, which applies the
// namespace prefix policy.
func (k CacheKey) String() string {
	return k.Namespace + KeySeparator + k.Identity
}

// IsZero reports whether the key was never built.
func (k CacheKey) IsZero() bool {
	return k.Namespace == "" && k.Identity == ""
}

// KeyBuilder maps identities of one named cache to CacheKeys. It holds no
// mutable state and is safe for concurrent use.
type KeyBuilder struct {
	namespace         string
	maxIdentityLength int
}

// KeyBuilderOption configures a KeyBuilder.
type KeyBuilderOption func(*KeyBuilder)

// WithMaxIdentityLength replaces identities longer than n bytes with an
// xxhash digest so composite identities cannot blow up backend key sizes.
// n <= 0 disables hashing.
func WithMaxIdentityLength(n int) KeyBuilderOption {
	return func(b *KeyBuilder) {
		b.maxIdentityLength = n
	}
}

// NewKeyBuilder returns a builder for the named cache namespace.
func NewKeyBuilder(namespace string, opts ...KeyBuilderOption) KeyBuilder {
	b := KeyBuilder{namespace: namespace}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// Namespace returns the named cache this builder addresses.
func (b KeyBuilder) Namespace() string {
	return b.namespace
}

// Key builds the CacheKey for identity. It is deterministic: the same
// namespace and identity always yield the same key.
func (b KeyBuilder) Key(identity any) CacheKey {
	id := FormatIdentity(identity)
	if b.maxIdentityLength > 0 && len(id) > b.maxIdentityLength {
		id = "h" + strconv.FormatUint(xxhash.Sum64String(id), 16)
	}
	return CacheKey{Namespace: b.namespace, Identity: id}
}

// Keys builds one key per identity, preserving input order.
func (b KeyBuilder) Keys(identities ...any) []CacheKey {
	keys := make([]CacheKey, len(identities))
	for i, id := range identities {
		keys[i] = b.Key(id)
	}
	return keys
}
