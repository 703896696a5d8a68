package storage

import (
	"context"
	"time"

	"dex-trending/internal/domain"
)

// Defaults for trending stores.
const (
	DefaultTTL      = 1800 * time.Second
	DefaultCapacity = 10
)

// TrendingStore holds the latest trending result per chain.
// Implementations are bounded in both age (TTL) and the number of resident
// chains (capacity), and must be safe for concurrent use.
type TrendingStore interface {
	// Get returns the stored result for chain. Returns ErrNotFound if absent
	// or expired. A successful Get marks the chain as recently used.
	Get(ctx context.Context, chain string) (*domain.TrendingResult, error)

	// Put stores result under chain with a fresh timestamp, replacing any
	// previous entry. Admitting a new chain into a full store evicts the
	// least-recently-used chain.
	Put(ctx context.Context, chain string, result *domain.TrendingResult) error

	// Len returns the number of resident, unexpired chains.
	Len(ctx context.Context) (int, error)
}

// Stats is a snapshot of store counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64 // capacity evictions
	Expirations uint64 // entries dropped for age
}

// StatsReporter is implemented by stores that keep counters.
type StatsReporter interface {
	Stats() Stats
}
