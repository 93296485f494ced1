package repositorycache

// Identifiable is implemented by records that know their own identity.
// ok=false means the record has no identity yet (e.g. before insert).
type Identifiable[K comparable] interface {
	CacheIdentity() (id K, ok bool)
}

// IdentityFunc extracts the identity of records that do not implement
// Identifiable. It is registered once per record type with WithIdentityFunc.
type IdentityFunc[T any, K comparable] func(record T) (id K, ok bool)

// identityOf resolves the identity of record. Records without a resolvable
// identity are skipped by every cache step.
func (c *CachedRepository[T, K]) identityOf(record T) (K, bool) {
	if c.identity != nil {
		return c.identity(record)
	}
	if r, ok := any(record).(Identifiable[K]); ok {
		return r.CacheIdentity()
	}
	var zero K
	return zero, false
}

// orderedSet keeps insertion order and drops duplicates.
type orderedSet[K comparable] struct {
	seen  map[K]struct{}
	items []K
}

func newOrderedSet[K comparable](capacity int) *orderedSet[K] {
	return &orderedSet[K]{seen: make(map[K]struct{}, capacity), items: make([]K, 0, capacity)}
}

func (s *orderedSet[K]) add(v K) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet[K]) len() int { return len(s.items) }
