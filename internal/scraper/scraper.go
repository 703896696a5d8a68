// Package scraper extracts raw trending rows from the DexScreener screener
// page rendered by a headless browser.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dex-trending/internal/domain"
	"dex-trending/internal/trending"
)

// Defaults.
const (
	DefaultBaseURL = "https://dexscreener.com/"
	DefaultWait    = 20 * time.Second
)

// ErrScrapeFailure is returned when the page could not be rendered or did
// not contain the expected table.
var ErrScrapeFailure = errors.New("scrape failed")

// Renderer returns the HTML of a page once selector is present.
type Renderer interface {
	Render(ctx context.Context, pageURL, selector string, wait time.Duration) (string, error)
}

// Scraper implements trending.Extractor on top of a Renderer.
type Scraper struct {
	renderer Renderer
	baseURL  string
	wait     time.Duration
	logger   logrus.FieldLogger
}

var _ trending.Extractor = (*Scraper)(nil)

// Option configures Scraper.
type Option func(*Scraper)

// WithBaseURL overrides the screener URL.
func WithBaseURL(u string) Option {
	return func(s *Scraper) {
		s.baseURL = u
	}
}

// WithWait sets how long to wait for the table to appear.
func WithWait(d time.Duration) Option {
	return func(s *Scraper) {
		if d > 0 {
			s.wait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scraper) {
		s.logger = l
	}
}

// New creates a Scraper.
func New(renderer Renderer, opts ...Option) *Scraper {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := &Scraper{
		renderer: renderer,
		baseURL:  DefaultBaseURL,
		wait:     DefaultWait,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TrendingURL returns the screener URL ranking chain's pairs by 6h trending score.
func TrendingURL(base, chain string) string {
	q := url.Values{}
	q.Set("rankBy", "trendingScoreH6")
	q.Set("order", "desc")
	q.Set("chainIds", chain)
	return strings.TrimRight(base, "/") + "/?" + encodeOrdered(q, "rankBy", "order", "chainIds")
}

// encodeOrdered encodes q in the given key order instead of url.Values' sorted order.
func encodeOrdered(q url.Values, keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q.Get(k)))
	}
	return strings.Join(parts, "&")
}

// Extract renders the trending page for chain and returns its rows.
func (s *Scraper) Extract(ctx context.Context, chain string) ([]domain.RawRow, error) {
	pageURL := TrendingURL(s.baseURL, chain)
	log := s.logger.WithFields(logrus.Fields{"chain": chain, "url": pageURL})

	start := time.Now()
	html, err := s.renderer.Render(ctx, pageURL, RowSelector, s.wait)
	if err != nil {
		return nil, fmt.Errorf("%w: render %s: %w", ErrScrapeFailure, chain, err)
	}

	rows, err := ParseRows(html)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScrapeFailure, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no %q rows in page", ErrScrapeFailure, RowSelector)
	}

	log.WithFields(logrus.Fields{
		"rows":     len(rows),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("page scraped")
	return rows, nil
}
