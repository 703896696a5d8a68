package trending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-trending/internal/domain"
	"dex-trending/internal/observability"
	"dex-trending/internal/storage"
	"dex-trending/internal/storage/memory"
)

// fakeExtractor returns canned rows and counts invocations.
type fakeExtractor struct {
	mu    sync.Mutex
	rows  map[string][]domain.RawRow
	err   error
	calls atomic.Int32
	gate  chan struct{} // when set, Extract blocks until closed
}

func (f *fakeExtractor) Extract(ctx context.Context, chain string) ([]domain.RawRow, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[chain], nil
}

func (f *fakeExtractor) set(chain string, rows []domain.RawRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string][]domain.RawRow)
	}
	f.rows[chain] = rows
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGateway(t *testing.T, ex Extractor, capacity int) (*Gateway, *memory.TrendingStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewTrendingStore(30*time.Minute, capacity).WithClock(clock.Now)
	g := NewGateway(store, ex, WithClock(clock.Now))
	return g, store, clock
}

func TestGateway_MissThenHit(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One"), validRow("p2", "Two")})
	g, _, clock := newTestGateway(t, ex, 10)
	ctx := context.Background()

	first, hit, err := g.Lookup(ctx, "solana")
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, first.Tokens, 2)
	assert.Equal(t, "solana", first.Chain)
	assert.Equal(t, clock.Now().UnixMilli(), first.FetchedAt)

	second, hit, err := g.Lookup(ctx, "solana")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestGateway_RefreshAfterTTL(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, _, clock := newTestGateway(t, ex, 10)
	ctx := context.Background()

	first, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	second, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
	assert.NotSame(t, first, second)
	assert.Greater(t, second.FetchedAt, first.FetchedAt)
}

func TestGateway_NoValidRowsFails(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", ""), validRow("", "Two")})
	g, store, _ := newTestGateway(t, ex, 10)
	ctx := context.Background()

	result, err := g.GetTrending(ctx, "solana")
	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrExtractionFailure)

	var failure *ExtractionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 2, failure.Rows)
	assert.Equal(t, 2, failure.Rejected)
	assert.Nil(t, failure.Cause)

	_, err = store.Get(ctx, "solana")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failure must not be cached")
}

func TestGateway_EmptyScrapeFails(t *testing.T) {
	ex := &fakeExtractor{}
	g, _, _ := newTestGateway(t, ex, 10)

	_, err := g.GetTrending(context.Background(), "solana")
	assert.ErrorIs(t, err, ErrExtractionFailure)
}

func TestGateway_ExtractorErrorPropagates(t *testing.T) {
	cause := errors.New("page timeout")
	ex := &fakeExtractor{err: cause}
	g, _, _ := newTestGateway(t, ex, 10)

	_, err := g.GetTrending(context.Background(), "solana")
	assert.ErrorIs(t, err, ErrExtractionFailure)
	assert.ErrorIs(t, err, cause)
}

func TestGateway_FailureLeavesPriorEntryUntouched(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, store, clock := newTestGateway(t, ex, 10)
	ctx := context.Background()

	first, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)

	// Expire the entry, then make the next scrape yield nothing usable.
	clock.Advance(31 * time.Minute)
	ex.set("solana", []domain.RawRow{validRow("p1", "")})

	_, err = g.GetTrending(ctx, "solana")
	require.ErrorIs(t, err, ErrExtractionFailure)

	// No stale fallback and no negative caching: the store is empty for the key.
	_, err = store.Get(ctx, "solana")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A later successful scrape is cached normally.
	ex.set("solana", []domain.RawRow{validRow("p9", "Nine")})
	third, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens[0].ID, third.Tokens[0].ID)
}

func TestGateway_FailureWithFreshEntryKeepsServingCache(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, _, _ := newTestGateway(t, ex, 10)
	ctx := context.Background()

	first, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)

	ex.set("solana", nil)
	second, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestGateway_InvalidChain(t *testing.T) {
	ex := &fakeExtractor{}
	g, _, _ := newTestGateway(t, ex, 10)

	for _, chain := range []string{"", "   ", "sol ana", "solana&x=1", "../etc"} {
		_, err := g.GetTrending(context.Background(), chain)
		assert.ErrorIs(t, err, ErrInvalidChain, "chain %q", chain)
	}
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestGateway_ChainIsNormalized(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, _, _ := newTestGateway(t, ex, 10)
	ctx := context.Background()

	_, err := g.GetTrending(ctx, " Solana ")
	require.NoError(t, err)
	_, hit, err := g.Lookup(ctx, "solana")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGateway_CapacityEvictsLRU(t *testing.T) {
	ex := &fakeExtractor{}
	for _, c := range []string{"a", "b", "c"} {
		ex.set(c, []domain.RawRow{validRow(c+"1", "T")})
	}
	g, store, _ := newTestGateway(t, ex, 2)
	ctx := context.Background()

	_, err := g.GetTrending(ctx, "a")
	require.NoError(t, err)
	_, err = g.GetTrending(ctx, "b")
	require.NoError(t, err)
	_, err = g.GetTrending(ctx, "a") // hit, "b" becomes LRU
	require.NoError(t, err)
	_, err = g.GetTrending(ctx, "c")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, store.Chains())
	assert.Equal(t, uint64(1), store.Stats().Evictions)
}

func TestGateway_RowLimit(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", ""), validRow("p2", "Two"), validRow("p3", "Three")})
	clock := &testClock{now: time.Now()}
	store := memory.NewTrendingStore(time.Minute, 10).WithClock(clock.Now)
	g := NewGateway(store, ex, WithRowLimit(2))

	result, err := g.GetTrending(context.Background(), "solana")
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, "p2", result.Tokens[0].ID)
}

func TestGateway_ConcurrentMissesShareExtraction(t *testing.T) {
	ex := &fakeExtractor{gate: make(chan struct{})}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, _, _ := newTestGateway(t, ex, 10)
	ctx := context.Background()

	const callers = 8
	results := make([]*domain.TrendingResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.GetTrending(ctx, "solana")
		}(i)
	}

	// Let the callers pile up behind the first extraction.
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(ex.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestGateway_CancelledCallerDoesNotFailJoiners(t *testing.T) {
	ex := &fakeExtractor{gate: make(chan struct{})}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g, store, _ := newTestGateway(t, ex, 10)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.GetTrending(firstCtx, "solana")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		result *domain.TrendingResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := g.GetTrending(context.Background(), "solana")
		second <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The starting caller leaves; only it sees the cancellation.
	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(ex.gate)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		require.Len(t, got.result.Tokens, 1)
	case <-time.After(time.Second):
		t.Fatal("joined caller did not return")
	}
	assert.Equal(t, int32(1), ex.calls.Load())

	_, err := store.Get(context.Background(), "solana")
	assert.NoError(t, err, "detached extraction is cached")
}

func TestGateway_ExtractTimeoutBoundsDetachedExtraction(t *testing.T) {
	ex := &fakeExtractor{gate: make(chan struct{})}
	defer close(ex.gate)
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	store := memory.NewTrendingStore(time.Minute, 10)
	g := NewGateway(store, ex, WithExtractTimeout(20*time.Millisecond))

	_, err := g.GetTrending(context.Background(), "solana")
	require.ErrorIs(t, err, ErrExtractionFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_StoreNotLockedDuringExtraction(t *testing.T) {
	ex := &fakeExtractor{gate: make(chan struct{})}
	ex.set("slow", []domain.RawRow{validRow("s1", "Slow")})
	ex.set("fast", []domain.RawRow{validRow("f1", "Fast")})
	g, _, _ := newTestGateway(t, ex, 10)
	ctx := context.Background()

	// Seed "fast" while the gate is closed by using a separate ungated extractor.
	seed := NewGateway(g.store, &fakeExtractor{rows: map[string][]domain.RawRow{"fast": ex.rows["fast"]}})
	_, err := seed.GetTrending(ctx, "fast")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.GetTrending(ctx, "slow")
	}()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)

	// A hit for another chain completes while the slow scrape is blocked.
	_, hit, err := g.Lookup(ctx, "fast")
	require.NoError(t, err)
	assert.True(t, hit)

	close(ex.gate)
	<-done
}

func TestGateway_Metrics(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One"), validRow("p2", "")})
	clock := &testClock{now: time.Now()}
	store := memory.NewTrendingStore(time.Minute, 10).WithClock(clock.Now)
	m := observability.NewMetrics("test")
	g := NewGateway(store, ex, WithMetrics(m))
	ctx := context.Background()

	_, err := g.GetTrending(ctx, "solana")
	require.NoError(t, err)
	_, err = g.GetTrending(ctx, "solana")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsRejected.WithLabelValues(string(RejectMissingName))))
}

type failingStore struct {
	storage.TrendingStore
}

func (failingStore) Get(context.Context, string) (*domain.TrendingResult, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Put(context.Context, string, *domain.TrendingResult) error {
	return errors.New("connection refused")
}

func TestGateway_StoreErrorsDegradeToScrape(t *testing.T) {
	ex := &fakeExtractor{}
	ex.set("solana", []domain.RawRow{validRow("p1", "One")})
	g := NewGateway(failingStore{}, ex)

	result, err := g.GetTrending(context.Background(), "solana")
	require.NoError(t, err)
	assert.Len(t, result.Tokens, 1)

	_, err = g.GetTrending(context.Background(), "solana")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}
