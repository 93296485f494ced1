package repositorycache

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-cache-aside/cache"
)

// CachedRepository keeps a cache consistent with a Store. Reads go through
// the cache and populate it on a miss; writes hit the store first and then
// invalidate (or, for creates, populate) the affected entries.
type CachedRepository[T any, K comparable] struct {
	store     Store[T, K]
	cache     cache.CacheService[T]
	keys      cache.KeyBuilder
	index     cache.CacheService[K]
	indexKeys cache.KeyBuilder
	identity  IdentityFunc[T, K]
	batchSize int
	nullGuard bool
	group     *singleflight.Group
	logger    *slog.Logger
}

type readResult[T any] struct {
	value T
	found bool
}

// New wraps store with cache-aside behaviour. An empty namespace derives
// one from the record type name (User -> "user").
//
// New panics if WithIdentityFunc or WithIndexCache were given types that do
// not match T and K.
func New[T any, K comparable](store Store[T, K], svc cache.CacheService[T], namespace string, opts ...Option) *CachedRepository[T, K] {
	s := settings{
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	if namespace == "" {
		namespace = NamespaceFor[T]()
	}

	c := &CachedRepository[T, K]{
		store:     store,
		cache:     svc,
		keys:      cache.NewKeyBuilder(namespace),
		batchSize: s.batchSize,
		nullGuard: s.batchNullGuard,
		logger:    s.logger.With("cache", namespace),
	}

	if s.identity != nil {
		fn, ok := s.identity.(IdentityFunc[T, K])
		if !ok {
			panic(fmt.Sprintf("repositorycache: identity func %T does not match repository types", s.identity))
		}
		c.identity = fn
	}

	if s.index != nil {
		indexSvc, ok := s.index.(cache.CacheService[K])
		if !ok {
			panic(fmt.Sprintf("repositorycache: index cache %T does not match identity type", s.index))
		}
		indexNamespace := s.indexNamespace
		if indexNamespace == "" {
			indexNamespace = namespace + "_key"
		}
		c.index = indexSvc
		c.indexKeys = cache.NewKeyBuilder(indexNamespace)
	}

	if s.singleFlight {
		c.group = &singleflight.Group{}
	}

	return c
}

// Namespace returns the named cache this repository writes to.
func (c *CachedRepository[T, K]) Namespace() string {
	return c.keys.Namespace()
}

// KeyFor returns the cache key of identity id.
func (c *CachedRepository[T, K]) KeyFor(id K) cache.CacheKey {
	return c.keys.Key(id)
}

// GetByIDCached returns the record with identity id, reading through the
// cache. found=false means the store has no such record; that answer is
// itself cached when the named cache allows null values.
func (c *CachedRepository[T, K]) GetByIDCached(ctx context.Context, id K) (T, bool, error) {
	key := c.keys.Key(id)

	read := func(ctx context.Context) (T, bool, error) {
		return c.cache.Get(ctx, key, func(ctx context.Context, _ cache.CacheKey) (T, bool, error) {
			record, found, err := c.store.GetByID(ctx, id)
			if err != nil {
				var zero T
				return zero, false, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "get by id")
			}
			return record, found, nil
		})
	}

	if c.group == nil {
		return read(ctx)
	}

	// The shared load outlives a cancelled caller so its followers still
	// get a result.
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		value, found, err := read(context.WithoutCancel(ctx))
		return readResult[T]{value: value, found: found}, err
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	res := v.(readResult[T])
	return res.value, res.found, nil
}

// FindByIDs returns the records for ids: cache hits in input order followed
// by the records loaded for the misses. Misses are loaded with one call to
// loader (Store.ListByIDs when nil) and cached individually under their own
// identity. Ids the store does not have are simply absent from the result.
func (c *CachedRepository[T, K]) FindByIDs(ctx context.Context, ids []K, loader BatchLoader[T, K]) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	if loader == nil {
		loader = c.store.ListByIDs
	}

	keys := make([]cache.CacheKey, len(ids))
	for i, id := range ids {
		keys[i] = c.keys.Key(id)
	}

	records := make([]T, 0, len(ids))
	missed := newOrderedSet[K](len(ids))

	for start := 0; start < len(keys); start += c.batchSize {
		end := min(start+c.batchSize, len(keys))

		lookups, err := c.cache.Find(ctx, keys[start:end]...)
		if err != nil {
			return nil, err
		}

		for i, l := range lookups {
			switch {
			case l.Found:
				records = append(records, l.Value)
			case l.Null && c.nullGuard:
			default:
				missed.add(ids[start+i])
			}
		}
	}

	if missed.len() == 0 {
		return records, nil
	}

	loaded, err := c.loadMissed(ctx, missed.items, loader)
	if err != nil {
		return nil, err
	}

	for _, record := range loaded {
		if err := c.populate(ctx, record); err != nil {
			return nil, err
		}
	}

	return append(records, loaded...), nil
}

func (c *CachedRepository[T, K]) loadMissed(ctx context.Context, ids []K, loader BatchLoader[T, K]) ([]T, error) {
	load := func(ctx context.Context) ([]T, error) {
		loaded, err := loader(ctx, ids)
		if err != nil {
			return nil, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "list by ids")
		}
		return loaded, nil
	}

	if c.group == nil {
		return load(ctx)
	}

	v, err, _ := c.group.Do("batch:"+c.keys.Namespace()+":"+cache.FormatIdentity(ids), func() (any, error) {
		return load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// GetByKey resolves a secondary key to an identity and delegates to
// GetByIDCached. With an index cache the key to identity mapping is cached
// too, including the null sentinel for keys that resolve to nothing.
func (c *CachedRepository[T, K]) GetByKey(ctx context.Context, key any, resolve KeyResolver[K]) (T, bool, error) {
	var zero T
	if resolve == nil {
		return zero, false, goerrors.New("get by key requires a resolver", goerrors.CategoryBadInput)
	}

	lookup := func(ctx context.Context, _ cache.CacheKey) (K, bool, error) {
		id, ok, err := resolve(ctx, key)
		if err != nil {
			var none K
			return none, false, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "resolve key")
		}
		return id, ok, nil
	}

	var (
		id  K
		ok  bool
		err error
	)
	if c.index != nil {
		id, ok, err = c.index.Get(ctx, c.indexKeys.Key(key), lookup)
	} else {
		id, ok, err = lookup(ctx, cache.CacheKey{})
	}
	if err != nil || !ok {
		return zero, false, err
	}

	return c.GetByIDCached(ctx, id)
}

// InvalidateKey drops the cached identity of a secondary key. Call it when
// a record's secondary key changes.
func (c *CachedRepository[T, K]) InvalidateKey(ctx context.Context, key any) error {
	if c.index == nil {
		return nil
	}
	return c.index.Delete(ctx, c.indexKeys.Key(key))
}

// Create inserts record and caches the stored result.
func (c *CachedRepository[T, K]) Create(ctx context.Context, record T) (T, error) {
	created, err := c.store.Create(ctx, record)
	if err != nil {
		var zero T
		return zero, cache.StoreError(err, cache.TextCodeStoreMutation, "create")
	}
	return created, c.populate(ctx, created)
}

// Update writes the non-zero fields of record and invalidates its entry.
func (c *CachedRepository[T, K]) Update(ctx context.Context, record T) (T, error) {
	updated, err := c.store.Update(ctx, record)
	if err != nil {
		var zero T
		return zero, cache.StoreError(err, cache.TextCodeStoreMutation, "update")
	}
	return updated, c.invalidate(ctx, record, updated)
}

// UpdateAllFields writes every field of record and invalidates its entry.
func (c *CachedRepository[T, K]) UpdateAllFields(ctx context.Context, record T) (T, error) {
	updated, err := c.store.UpdateAllFields(ctx, record)
	if err != nil {
		var zero T
		return zero, cache.StoreError(err, cache.TextCodeStoreMutation, "update all fields")
	}
	return updated, c.invalidate(ctx, record, updated)
}

// RemoveByID deletes the record and its cache entry.
func (c *CachedRepository[T, K]) RemoveByID(ctx context.Context, id K) error {
	if err := c.store.DeleteByID(ctx, id); err != nil {
		return cache.StoreError(err, cache.TextCodeStoreMutation, "delete by id")
	}
	return c.cache.Delete(ctx, c.keys.Key(id))
}

// RemoveByIDs deletes the records and their cache entries. Every distinct
// id is invalidated once, whether or not it was cached.
func (c *CachedRepository[T, K]) RemoveByIDs(ctx context.Context, ids []K) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.store.DeleteByIDs(ctx, ids); err != nil {
		return cache.StoreError(err, cache.TextCodeStoreMutation, "delete by ids")
	}

	unique := newOrderedSet[K](len(ids))
	for _, id := range ids {
		unique.add(id)
	}
	keys := make([]cache.CacheKey, unique.len())
	for i, id := range unique.items {
		keys[i] = c.keys.Key(id)
	}
	return c.cache.Delete(ctx, keys...)
}

// Delete removes record by its identity.
func (c *CachedRepository[T, K]) Delete(ctx context.Context, record T) error {
	id, ok := c.identityOf(record)
	if !ok {
		return goerrors.New("record has no identity", goerrors.CategoryBadInput)
	}
	return c.RemoveByID(ctx, id)
}

// CreateMany inserts records and caches each stored result.
func (c *CachedRepository[T, K]) CreateMany(ctx context.Context, records []T) ([]T, error) {
	if len(records) == 0 {
		return []T{}, nil
	}
	created, err := c.store.CreateMany(ctx, records)
	if err != nil {
		return nil, cache.StoreError(err, cache.TextCodeStoreMutation, "create many")
	}
	for _, record := range created {
		if err := c.populate(ctx, record); err != nil {
			return created, err
		}
	}
	return created, nil
}

// UpdateMany updates records and invalidates their entries.
func (c *CachedRepository[T, K]) UpdateMany(ctx context.Context, records []T) ([]T, error) {
	if len(records) == 0 {
		return []T{}, nil
	}
	updated, err := c.store.UpdateMany(ctx, records)
	if err != nil {
		return nil, cache.StoreError(err, cache.TextCodeStoreMutation, "update many")
	}
	return updated, c.invalidate(ctx, append(append([]T{}, records...), updated...)...)
}

// SaveOrUpdateMany resolves every row as an insert (no identity, or no
// stored record with it) or an update. Inserts are cached, updates are
// invalidated. The result keeps the input order.
func (c *CachedRepository[T, K]) SaveOrUpdateMany(ctx context.Context, records []T) ([]T, error) {
	if len(records) == 0 {
		return []T{}, nil
	}

	var inserts, updates []T
	var insertAt, updateAt []int

	for i, record := range records {
		exists := false
		if id, ok := c.identityOf(record); ok {
			_, found, err := c.store.GetByID(ctx, id)
			if err != nil {
				return nil, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "get by id")
			}
			exists = found
		}
		if exists {
			updates = append(updates, record)
			updateAt = append(updateAt, i)
		} else {
			inserts = append(inserts, record)
			insertAt = append(insertAt, i)
		}
	}

	var created, updated []T
	var err error
	if len(inserts) > 0 {
		if created, err = c.store.CreateMany(ctx, inserts); err != nil {
			return nil, cache.StoreError(err, cache.TextCodeStoreMutation, "create many")
		}
	}
	if len(updates) > 0 {
		if updated, err = c.store.UpdateMany(ctx, updates); err != nil {
			return nil, cache.StoreError(err, cache.TextCodeStoreMutation, "update many")
		}
	}

	out := make([]T, len(records))
	copy(out, records)
	for i, record := range created {
		if i < len(insertAt) {
			out[insertAt[i]] = record
		}
	}
	for i, record := range updated {
		if i < len(updateAt) {
			out[updateAt[i]] = record
		}
	}

	for _, record := range created {
		if err := c.populate(ctx, record); err != nil {
			return out, err
		}
	}
	if err := c.invalidate(ctx, updates...); err != nil {
		return out, err
	}
	return out, nil
}

// RefreshCache loads every record from the store and writes it to the
// cache. It returns the number of entries written.
func (c *CachedRepository[T, K]) RefreshCache(ctx context.Context) (int, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return 0, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "list")
	}

	n := 0
	for _, record := range records {
		id, ok := c.identityOf(record)
		if !ok {
			continue
		}
		if err := c.cache.Set(ctx, c.keys.Key(id), record); err != nil {
			return n, err
		}
		n++
	}
	c.logger.InfoContext(ctx, "cache refreshed", "entries", n, "records", len(records))
	return n, nil
}

// ClearCache removes the entry of every record in the store. It returns
// the number of keys deleted.
func (c *CachedRepository[T, K]) ClearCache(ctx context.Context) (int, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return 0, cache.StoreError(err, cache.TextCodeStoreLoadFailed, "list")
	}

	keys := make([]cache.CacheKey, 0, len(records))
	for _, record := range records {
		if id, ok := c.identityOf(record); ok {
			keys = append(keys, c.keys.Key(id))
		}
	}

	for start := 0; start < len(keys); start += c.batchSize {
		end := min(start+c.batchSize, len(keys))
		if err := c.cache.Delete(ctx, keys[start:end]...); err != nil {
			return start, err
		}
	}
	c.logger.InfoContext(ctx, "cache cleared", "entries", len(keys))
	return len(keys), nil
}

func (c *CachedRepository[T, K]) populate(ctx context.Context, record T) error {
	id, ok := c.identityOf(record)
	if !ok {
		c.logger.DebugContext(ctx, "skipping cache population, record has no identity")
		return nil
	}
	return c.cache.Set(ctx, c.keys.Key(id), record)
}

// invalidate deletes the entries of records, one delete per distinct key.
func (c *CachedRepository[T, K]) invalidate(ctx context.Context, records ...T) error {
	unique := newOrderedSet[K](len(records))
	for _, record := range records {
		if id, ok := c.identityOf(record); ok {
			unique.add(id)
		}
	}
	if unique.len() == 0 {
		c.logger.DebugContext(ctx, "skipping cache invalidation, records have no identity")
		return nil
	}

	keys := make([]cache.CacheKey, unique.len())
	for i, id := range unique.items {
		keys[i] = c.keys.Key(id)
	}
	return c.cache.Delete(ctx, keys...)
}
