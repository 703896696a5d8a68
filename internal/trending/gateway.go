// Package trending turns scraped rows into validated trending results and
// serves them through a TTL + LRU bounded cache keyed by chain.
package trending

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"dex-trending/internal/domain"
	"dex-trending/internal/observability"
	"dex-trending/internal/storage"
)

// DefaultExtractTimeout bounds one extraction, including the page load and
// the table wait.
const DefaultExtractTimeout = 2 * time.Minute

// Extractor obtains raw trending rows for a chain, in upstream ranking order.
// Implementations may block for the duration of a page render.
type Extractor interface {
	Extract(ctx context.Context, chain string) ([]domain.RawRow, error)
}

// Gateway serves trending results from the store, scraping on miss.
type Gateway struct {
	store     storage.TrendingStore
	extractor Extractor
	rowLimit  int
	logger    logrus.FieldLogger
	metrics   *observability.Metrics
	now       func() time.Time
	timeout   time.Duration

	flights singleflight.Group
}

// Option configures Gateway.
type Option func(*Gateway)

// WithRowLimit sets how many raw rows are considered per scrape.
func WithRowLimit(n int) Option {
	return func(g *Gateway) {
		g.rowLimit = n
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics sets Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithClock sets a custom clock function for deterministic FetchedAt values.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithExtractTimeout bounds a shared extraction, which outlives the caller
// that started it. Defaults to DefaultExtractTimeout.
func WithExtractTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGateway creates a Gateway over store and extractor.
func NewGateway(store storage.TrendingStore, extractor Extractor, opts ...Option) *Gateway {
	g := &Gateway{
		store:     store,
		extractor: extractor,
		rowLimit:  DefaultRowLimit,
		logger:    discardLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		timeout:   DefaultExtractTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetTrending returns the trending result for chain.
// Fails with ErrExtractionFailure when no valid rows could be obtained and
// ErrInvalidChain for malformed chain identifiers.
func (g *Gateway) GetTrending(ctx context.Context, chain string) (*domain.TrendingResult, error) {
	result, _, err := g.Lookup(ctx, chain)
	return result, err
}

// Lookup is GetTrending that also reports whether the result was served
// from the cache.
func (g *Gateway) Lookup(ctx context.Context, chain string) (*domain.TrendingResult, bool, error) {
	chain, err := NormalizeChain(chain)
	if err != nil {
		return nil, false, err
	}
	log := g.logger.WithField("chain", chain)

	if result, ok := g.cached(ctx, chain, log); ok {
		return result, true, nil
	}

	// Concurrent misses for the same chain share one extraction. It runs
	// detached from the starting caller so that caller's cancellation does
	// not fail the others; each caller stops waiting on its own ctx.
	ch := g.flights.DoChan(chain, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.refresh(fctx, chain, log)
	})

	select {
	case <-ctx.Done():
		log.WithError(ctx.Err()).Debug("caller left before extraction finished")
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			log.Debug("joined in-flight extraction")
		}
		return res.Val.(*domain.TrendingResult), false, nil
	}
}

func (g *Gateway) cached(ctx context.Context, chain string, log logrus.FieldLogger) (*domain.TrendingResult, bool) {
	result, err := g.store.Get(ctx, chain)
	switch {
	case err == nil:
		g.metrics.ObserveCacheLookup(true)
		log.Debug("serving from cache")
		return result, true
	case errors.Is(err, storage.ErrNotFound):
	default:
		// A broken cache degrades to scraping on every request.
		log.WithError(err).Warn("cache read failed")
	}
	g.metrics.ObserveCacheLookup(false)
	return nil, false
}

// refresh runs one extraction and commits the result. No lock on the store
// is held while the extractor runs.
func (g *Gateway) refresh(ctx context.Context, chain string, log logrus.FieldLogger) (*domain.TrendingResult, error) {
	log.Info("cache miss, initiating scrape")
	start := time.Now()

	rows, err := g.extractor.Extract(ctx, chain)
	if err != nil {
		g.metrics.ObserveExtraction("scrape_error", time.Since(start).Seconds())
		log.WithError(err).Error("scrape failed")
		return nil, &ExtractionFailure{Chain: chain, Cause: err}
	}

	batch := TransformRows(rows, g.rowLimit)
	g.report(batch, log)

	if len(batch.Tokens) == 0 {
		g.metrics.ObserveExtraction("no_valid_rows", time.Since(start).Seconds())
		log.WithField("rows", len(batch.Results)).Error("scrape produced no valid tokens")
		return nil, &ExtractionFailure{Chain: chain, Rows: len(batch.Results), Rejected: batch.Rejected()}
	}

	result := &domain.TrendingResult{
		Chain:     chain,
		FetchedAt: g.now().UnixMilli(),
		Tokens:    batch.Tokens,
	}

	if err := g.store.Put(ctx, chain, result); err != nil {
		// The scrape succeeded; serve it uncached rather than fail.
		log.WithError(err).Warn("cache write failed")
	}

	g.metrics.ObserveExtraction("success", time.Since(start).Seconds())
	g.metrics.ObserveTokens(len(result.Tokens))
	log.WithFields(logrus.Fields{
		"tokens":   len(result.Tokens),
		"rejected": batch.Rejected(),
	}).Info("scraped and cached trending tokens")

	return result, nil
}

// report logs field warnings and rejections of a transformed batch.
func (g *Gateway) report(b Batch, log logrus.FieldLogger) {
	for _, res := range b.Results {
		for _, w := range res.Warnings {
			g.metrics.ObserveFieldWarning(w.Field)
			log.WithFields(logrus.Fields{
				"row":   res.Index,
				"field": w.Field,
			}).Warn(w.Error())
		}
		if res.Rejection != nil {
			g.metrics.ObserveRejection(string(res.Rejection.Reason))
			entry := log.WithFields(logrus.Fields{
				"row":    res.Index,
				"reason": res.Rejection.Reason,
			})
			if res.Rejection.Err != nil {
				entry = entry.WithError(res.Rejection.Err)
			}
			entry.Debug("row dropped")
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
