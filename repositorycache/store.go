package repositorycache

import "context"

// Store is the persistent record store wrapped by CachedRepository. A
// successful mutation must mean the change is durable; the cache is only
// touched after it returns.
type Store[T any, K comparable] interface {
	// GetByID returns found=false when no record has the identity.
	GetByID(ctx context.Context, id K) (T, bool, error)
	// ListByIDs returns the records that exist among ids, in any order.
	ListByIDs(ctx context.Context, ids []K) ([]T, error)
	List(ctx context.Context) ([]T, error)

	Create(ctx context.Context, record T) (T, error)
	CreateMany(ctx context.Context, records []T) ([]T, error)
	// Update writes the non-zero fields of record.
	Update(ctx context.Context, record T) (T, error)
	// UpdateAllFields writes every field of record, zero values included.
	UpdateAllFields(ctx context.Context, record T) (T, error)
	UpdateMany(ctx context.Context, records []T) ([]T, error)
	DeleteByID(ctx context.Context, id K) error
	DeleteByIDs(ctx context.Context, ids []K) error
}

// BatchLoader loads the records for ids from the store. Records that do not
// exist are omitted from the result.
type BatchLoader[T any, K comparable] func(ctx context.Context, ids []K) ([]T, error)

// KeyResolver maps a secondary key (email, slug, external reference) to
// the identity of the record it names.
type KeyResolver[K comparable] func(ctx context.Context, key any) (K, bool, error)
