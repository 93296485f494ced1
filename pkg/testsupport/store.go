package testsupport

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Journal records the order in which fakes are called. Share one journal
// between a MemoryStore and a MemoryBackend to assert store-before-cache
// ordering.
type Journal struct {
	mu     sync.Mutex
	events []string
}

// Record appends event.
func (j *Journal) Record(event string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []string {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// Index returns the position of the first event with prefix, or -1.
func (j *Journal) Index(prefix string) int {
	for i, e := range j.Events() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// MemoryStore is an in-memory record store with per-method call counters
// and failure injection. It satisfies repositorycache.Store.
type MemoryStore[T any, K comparable] struct {
	mu       sync.Mutex
	records  map[K]T
	order    []K
	identity func(T) (K, bool)
	assign   func(T, int) T
	nextID   int
	calls    map[string]int
	failing  map[string]bool
	loadedBy [][]K
	journal  *Journal
}

// NewMemoryStore returns an empty store. identity extracts the key of a
// record; assign, when not nil, gives records without identity a new one
// on create.
func NewMemoryStore[T any, K comparable](identity func(T) (K, bool), assign func(T, int) T) *MemoryStore[T, K] {
	return &MemoryStore[T, K]{
		records:  make(map[K]T),
		identity: identity,
		assign:   assign,
		calls:    make(map[string]int),
		failing:  make(map[string]bool),
	}
}

// WithJournal makes the store record its calls in j.
func (s *MemoryStore[T, K]) WithJournal(j *Journal) *MemoryStore[T, K] {
	s.journal = j
	return s
}

// Seed inserts records without counting calls.
func (s *MemoryStore[T, K]) Seed(records ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.put(r)
	}
}

// Fail makes method return ErrInjected until cleared with Fail(method, false).
func (s *MemoryStore[T, K]) Fail(method string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[method] = fail
}

// Calls returns how often method was invoked.
func (s *MemoryStore[T, K]) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// LoadedIDs returns the id sets passed to ListByIDs, in call order.
func (s *MemoryStore[T, K]) LoadedIDs() [][]K {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]K, len(s.loadedBy))
	for i, ids := range s.loadedBy {
		out[i] = append([]K(nil), ids...)
	}
	return out
}

// Len returns the number of stored records.
func (s *MemoryStore[T, K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore[T, K]) enter(method string) error {
	s.mu.Lock()
	s.calls[method]++
	fail := s.failing[method]
	s.mu.Unlock()
	s.journal.Record("store." + method)
	if fail {
		return ErrInjected
	}
	return nil
}

func (s *MemoryStore[T, K]) put(r T) {
	id, ok := s.identity(r)
	if !ok {
		return
	}
	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	s.records[id] = r
}

func (s *MemoryStore[T, K]) remove(id K) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, k := range s.order {
		if k == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore[T, K]) GetByID(_ context.Context, id K) (T, bool, error) {
	var zero T
	if err := s.enter("GetByID"); err != nil {
		return zero, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *MemoryStore[T, K]) ListByIDs(_ context.Context, ids []K) ([]T, error) {
	if err := s.enter("ListByIDs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadedBy = append(s.loadedBy, append([]K(nil), ids...))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore[T, K]) List(_ context.Context) ([]T, error) {
	if err := s.enter("List"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore[T, K]) Create(_ context.Context, record T) (T, error) {
	var zero T
	if err := s.enter("Create"); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record = s.withIdentity(record)
	s.put(record)
	return record, nil
}

func (s *MemoryStore[T, K]) CreateMany(_ context.Context, records []T) ([]T, error) {
	if err := s.enter("CreateMany"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(records))
	for i, r := range records {
		out[i] = s.withIdentity(r)
		s.put(out[i])
	}
	return out, nil
}

func (s *MemoryStore[T, K]) Update(_ context.Context, record T) (T, error) {
	return s.update("Update", record)
}

func (s *MemoryStore[T, K]) UpdateAllFields(_ context.Context, record T) (T, error) {
	return s.update("UpdateAllFields", record)
}

func (s *MemoryStore[T, K]) update(method string, record T) (T, error) {
	var zero T
	if err := s.enter(method); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(record)
	return record, nil
}

func (s *MemoryStore[T, K]) UpdateMany(_ context.Context, records []T) ([]T, error) {
	if err := s.enter("UpdateMany"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.put(r)
	}
	return append([]T(nil), records...), nil
}

func (s *MemoryStore[T, K]) DeleteByID(_ context.Context, id K) error {
	if err := s.enter("DeleteByID"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
	return nil
}

func (s *MemoryStore[T, K]) DeleteByIDs(_ context.Context, ids []K) error {
	if err := s.enter("DeleteByIDs"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.remove(id)
	}
	return nil
}

func (s *MemoryStore[T, K]) withIdentity(record T) T {
	if _, ok := s.identity(record); ok || s.assign == nil {
		return record
	}
	s.nextID++
	return s.assign(record, s.nextID)
}

type backendEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a map-backed cache backend with call counters and
// failure injection. It satisfies cache.Backend and cache.PrefixDeleter.
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string]backendEntry
	ttls    map[string]time.Duration
	calls   map[string]int
	mgets   [][]string
	failing bool
	journal *Journal
	now     func() time.Time
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]backendEntry),
		ttls:  make(map[string]time.Duration),
		calls: make(map[string]int),
		now:   time.Now,
	}
}

// WithJournal makes the backend record its calls in j.
func (b *MemoryBackend) WithJournal(j *Journal) *MemoryBackend {
	b.journal = j
	return b
}

// WithClock replaces the clock used for expiry.
func (b *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	b.now = now
	return b
}

// Fail makes every call return ErrInjected while fail is true.
func (b *MemoryBackend) Fail(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = fail
}

// Calls returns how often method was invoked.
func (b *MemoryBackend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// MGetBatches returns the key sets passed to MGet, in call order.
func (b *MemoryBackend) MGetBatches() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, len(b.mgets))
	for i, keys := range b.mgets {
		out[i] = append([]string(nil), keys...)
	}
	return out
}

// Has reports whether key holds an unexpired entry.
func (b *MemoryBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live(key)
	return ok
}

// Raw returns the stored bytes of key.
func (b *MemoryBackend) Raw(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.live(key)
	return e.value, ok
}

// TTL returns the ttl key was last written with.
func (b *MemoryBackend) TTL(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttls[key]
}

// Keys returns the live keys, sorted.
func (b *MemoryBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		if _, ok := b.live(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *MemoryBackend) enter(method string) error {
	b.mu.Lock()
	b.calls[method]++
	fail := b.failing
	b.mu.Unlock()
	b.journal.Record("cache." + method)
	if fail {
		return ErrInjected
	}
	return nil
}

func (b *MemoryBackend) live(key string) (backendEntry, bool) {
	e, ok := b.data[key]
	if !ok {
		return backendEntry{}, false
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.data, key)
		return backendEntry{}, false
	}
	return e, true
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := b.enter("Get"); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.live(key)
	return e.value, ok, nil
}

func (b *MemoryBackend) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if err := b.enter("MGet"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mgets = append(b.mgets, append([]string(nil), keys...))
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if e, ok := b.live(k); ok {
			out[i] = e.value
		}
	}
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.enter("Set"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := backendEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.data[key] = e
	b.ttls[key] = ttl
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, keys ...string) error {
	if err := b.enter("Del"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	if err := b.enter("DeletePrefix"); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}
