// Package cache provides the cache repository used by cache-aside
// orchestration: key construction, per-cache policies, the null sentinel
// that guards the store against cache penetration, and the backend and lock
// contracts.
//
// # Overview
//
//   - KeyBuilder: maps a record identity of one named cache to a CacheKey
//   - Registry: resolves a cache name to its EffectiveConfig (TTL, prefix,
//     key prefixing, null caching) by overlaying a named override on a default
//   - Repository: implements CacheService (Get with loader, Find, Set, Delete)
//     on top of a Backend
//   - DistributedLock: optional mutual exclusion for callers that need it
//
// # Basic Usage
//
//	registry, err := cache.NewRegistry(
//		cache.NamedCacheConfig{TTL: time.Hour},
//		cache.NamedCacheConfig{Name: "user", TTL: time.Minute},
//	)
//	repo := cache.NewRepository[User](backend, registry)
//
//	keys := cache.NewKeyBuilder("user")
//	user, found, err := repo.Get(ctx, keys.Key(42), func(ctx context.Context, k cache.CacheKey) (User, bool, error) {
//		return store.GetByID(ctx, 42)
//	})
//
// The key for identity 42 in cache "user" is stored as "user:42". With a
// key prefix "app" configured it becomes "app:user:42".
//
// # Null Sentinel
//
// When a loader reports that a record does not exist, the repository stores
// a null sentinel under the key (unless the cache disables null values).
// Later reads of that key return found=false without calling the loader
// until the entry expires or is deleted. Entries are wrapped in a one byte
// envelope, so the sentinel can never collide with a codec encoding of a
// real value.
//
// # Errors
//
// Backend failures are never downgraded to misses. They are returned as
// go-errors values in CategoryCacheBackend, while store failures raised by
// the orchestration layer use CategoryStore. Use IsCacheError and
// IsStoreError to tell them apart.
//
// # See Also
//
// The repositorycache package wraps a persistent store with these
// primitives. Concrete backends and locks live in internal/cacheinfra and are
// wired by pkg/di.
package cache
