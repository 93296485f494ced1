// Package repositorycache keeps a cache consistent with a persistent record
// store using the cache-aside pattern.
//
// # Overview
//
// CachedRepository wraps a Store and a cache.CacheService. Reads check the
// cache first and fall back to the store on a miss, writing the loaded
// record back. Writes always complete against the store before the cache is
// touched: creates populate the cache with the stored record, updates and
// deletes invalidate the affected keys. A failed store mutation leaves the
// cache untouched.
//
// # Basic Usage
//
//	store := repositorycache.NewBunStore[*User](userRepo, "id")
//	svc := cache.NewRepository[*User](backend, registry)
//
//	users := repositorycache.New[*User, string](store, svc, "user",
//		repositorycache.WithIdentityFunc(func(u *User) (string, bool) {
//			return u.ID, u.ID != ""
//		}),
//	)
//
//	user, found, err := users.GetByIDCached(ctx, "42")
//	batch, err := users.FindByIDs(ctx, []string{"1", "2", "3"}, nil)
//
// # Identity Resolution
//
// The cache key of a record is built from its identity. Records either
// implement Identifiable or the repository is given an IdentityFunc with
// WithIdentityFunc. Records whose identity cannot be resolved are not
// cached; the operation itself still succeeds.
//
// # Batch Reads
//
// FindByIDs reads the cache in batches of DefaultBatchSize keys (see
// WithBatchSize), collects the misses in input order without duplicates and
// loads them with a single call to the batch loader. Each loaded record is
// cached under its own identity. The result holds the cache hits followed by
// the loaded records; ids the store does not know are left out.
//
// # Concurrency
//
// CachedRepository holds no locks. Two callers missing the same key both
// query the store unless WithSingleFlight is set, which collapses concurrent
// loads within the process. Between a store write and the matching cache
// invalidation a concurrent reader may still see the old entry; callers
// that cannot accept that window can serialize on a cache.DistributedLock.
//
// # Errors
//
// Store failures are returned in cache.CategoryStore, cache failures in
// cache.CategoryCacheBackend. If the cache step fails after a successful
// store mutation the error is returned; the store change stays committed.
package repositorycache
