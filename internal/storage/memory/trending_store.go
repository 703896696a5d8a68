package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"dex-trending/internal/domain"
	"dex-trending/internal/storage"
)

// Defaults for the trending cache.
const (
	DefaultTTL      = storage.DefaultTTL
	DefaultCapacity = storage.DefaultCapacity
)

type trendingEntry struct {
	chain    string
	result   *domain.TrendingResult
	storedAt time.Time
}

// TrendingStore is an in-memory LRU + TTL implementation of storage.TrendingStore.
// Stored results are shared, not copied: callers must treat them as read-only.
type TrendingStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time

	order *list.List               // front = most recently used
	items map[string]*list.Element // keyed by chain

	stats storage.Stats
}

// NewTrendingStore creates a store holding at most capacity chains for ttl each.
// Non-positive values fall back to DefaultTTL and DefaultCapacity.
func NewTrendingStore(ttl time.Duration, capacity int) *TrendingStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TrendingStore{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// WithClock sets a custom clock function for deterministic expiry.
func (s *TrendingStore) WithClock(now func() time.Time) *TrendingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Get returns the result for chain. Returns ErrNotFound if absent or expired.
func (s *TrendingStore) Get(_ context.Context, chain string) (*domain.TrendingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[chain]
	if !ok {
		s.stats.Misses++
		return nil, storage.ErrNotFound
	}

	e := el.Value.(*trendingEntry)
	if s.expired(e, s.now()) {
		s.remove(el)
		s.stats.Expirations++
		s.stats.Misses++
		return nil, storage.ErrNotFound
	}

	s.order.MoveToFront(el)
	s.stats.Hits++
	return e.result, nil
}

// Put stores result under chain, replacing any previous entry.
func (s *TrendingStore) Put(_ context.Context, chain string, result *domain.TrendingResult) error {
	if chain == "" || result == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &trendingEntry{chain: chain, result: result, storedAt: now}

	if el, ok := s.items[chain]; ok {
		el.Value = entry
		s.order.MoveToFront(el)
		return nil
	}

	s.purgeExpired(now)
	for s.order.Len() >= s.capacity {
		s.remove(s.order.Back())
		s.stats.Evictions++
	}

	s.items[chain] = s.order.PushFront(entry)
	return nil
}

// Len returns the number of resident, unexpired chains.
func (s *TrendingStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpired(s.now())
	return s.order.Len(), nil
}

// Stats returns a snapshot of the store counters.
func (s *TrendingStore) Stats() storage.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Chains returns resident chains from most to least recently used.
func (s *TrendingStore) Chains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	chains := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		chains = append(chains, el.Value.(*trendingEntry).chain)
	}
	return chains
}

func (s *TrendingStore) expired(e *trendingEntry, now time.Time) bool {
	return !now.Before(e.storedAt.Add(s.ttl))
}

// purgeExpired must be called with mu held.
func (s *TrendingStore) purgeExpired(now time.Time) {
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el.Value.(*trendingEntry), now) {
			s.remove(el)
			s.stats.Expirations++
		}
		el = prev
	}
}

func (s *TrendingStore) remove(el *list.Element) {
	e := s.order.Remove(el).(*trendingEntry)
	delete(s.items, e.chain)
}

var (
	_ storage.TrendingStore = (*TrendingStore)(nil)
	_ storage.StatsReporter = (*TrendingStore)(nil)
)
