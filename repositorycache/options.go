package repositorycache

import (
	"log/slog"

	"github.com/goliatone/go-cache-aside/cache"
)

// DefaultBatchSize bounds the number of keys sent to the cache backend in
// one Find during FindByIDs.
const DefaultBatchSize = 20

// Option configures a CachedRepository.
type Option func(*settings)

type settings struct {
	identity       any
	index          any
	indexNamespace string
	batchSize      int
	singleFlight   bool
	batchNullGuard bool
	logger         *slog.Logger
}

// WithIdentityFunc registers the identity extractor for records that do not
// implement Identifiable. Its type parameters must match the repository's.
func WithIdentityFunc[T any, K comparable](fn IdentityFunc[T, K]) Option {
	return func(s *settings) {
		s.identity = fn
	}
}

// WithIndexCache caches secondary key lookups of GetByKey in svc under
// namespace, "<repository namespace>_key" when empty. Without it every
// GetByKey call runs its resolver.
func WithIndexCache[K comparable](svc cache.CacheService[K], namespace string) Option {
	return func(s *settings) {
		s.index = svc
		s.indexNamespace = namespace
	}
}

// WithBatchSize overrides DefaultBatchSize. n <= 0 keeps the default.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSingleFlight collapses concurrent read-through loads of the same
// identity within this process into one store query. The shared query runs
// without the cancellation of the caller that started it.
func WithSingleFlight() Option {
	return func(s *settings) {
		s.singleFlight = true
	}
}

// WithBatchNullGuard makes FindByIDs honour cached null sentinels: ids
// confirmed absent are not sent to the batch loader again. By default the
// batch path treats a sentinel like a miss.
func WithBatchNullGuard() Option {
	return func(s *settings) {
		s.batchNullGuard = true
	}
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}
