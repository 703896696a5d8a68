// Package redis provides a Redis-backed storage.TrendingStore so that several
// API replicas can share one trending cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dex-trending/internal/domain"
	"dex-trending/internal/storage"
)

const defaultKeyPrefix = "trending"

// putScript prunes expired chains from the recency set, evicts the
// lowest-scored chains until the new one fits, then writes it. Running it as
// one script keeps concurrent writers from overshooting capacity.
//
// KEYS[1] recency set, KEYS[2] result key.
// ARGV: chain, value, ttl ms, score, capacity, result key prefix.
// Result keys derived from the recency set are not declared in KEYS, so the
// store requires a single Redis node.
var putScript = redis.NewScript(`
local lru, key = KEYS[1], KEYS[2]
local chain, prefix = ARGV[1], ARGV[6]
local capacity = tonumber(ARGV[5])

local others, present = 0, false
for _, member in ipairs(redis.call('ZRANGE', lru, 0, -1)) do
  if redis.call('EXISTS', prefix .. member) == 1 then
    if member == chain then present = true else others = others + 1 end
  else
    redis.call('ZREM', lru, member)
  end
end

local evicted = {}
if not present and capacity > 0 then
  while others >= capacity do
    local victim = redis.call('ZRANGE', lru, 0, 0)[1]
    redis.call('DEL', prefix .. victim)
    redis.call('ZREM', lru, victim)
    evicted[#evicted + 1] = victim
    others = others - 1
  end
end

redis.call('SET', key, ARGV[2], 'PX', ARGV[3])
redis.call('ZADD', lru, ARGV[4], chain)
return evicted
`)

// TrendingStore implements storage.TrendingStore on Redis.
//
// Each chain's result is a JSON string with a Redis-side TTL. Recency is a
// sorted set of chains scored by last access in milliseconds; admitting a new
// chain at capacity evicts the lowest score.
type TrendingStore struct {
	client   *redis.Client
	ttl      time.Duration
	capacity int
	prefix   string
	now      func() time.Time
}

// Option configures TrendingStore.
type Option func(*TrendingStore)

// WithKeyPrefix sets the key namespace. Defaults to "trending".
func WithKeyPrefix(prefix string) Option {
	return func(s *TrendingStore) {
		s.prefix = prefix
	}
}

// WithClock sets the clock used for recency scores.
func WithClock(now func() time.Time) Option {
	return func(s *TrendingStore) {
		s.now = now
	}
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewTrendingStore creates a store on an existing client.
// Non-positive ttl and capacity fall back to the storage defaults.
func NewTrendingStore(client *redis.Client, ttl time.Duration, capacity int, opts ...Option) *TrendingStore {
	if ttl <= 0 {
		ttl = storage.DefaultTTL
	}
	if capacity <= 0 {
		capacity = storage.DefaultCapacity
	}
	s := &TrendingStore{
		client:   client,
		ttl:      ttl,
		capacity: capacity,
		prefix:   defaultKeyPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ storage.TrendingStore = (*TrendingStore)(nil)

func (s *TrendingStore) resultKey(chain string) string {
	return fmt.Sprintf("%s:result:%s", s.prefix, chain)
}

func (s *TrendingStore) lruKey() string {
	return s.prefix + ":lru"
}

// Get returns the result for chain. Returns ErrNotFound if absent or expired.
func (s *TrendingStore) Get(ctx context.Context, chain string) (*domain.TrendingResult, error) {
	data, err := s.client.Get(ctx, s.resultKey(chain)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired by Redis; drop the dangling recency entry.
		if err := s.client.ZRem(ctx, s.lruKey(), chain).Err(); err != nil {
			return nil, fmt.Errorf("prune lru: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trending result: %w", err)
	}

	var result domain.TrendingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode trending result: %w", err)
	}

	if err := s.client.ZAdd(ctx, s.lruKey(), s.score(chain)).Err(); err != nil {
		return nil, fmt.Errorf("touch lru: %w", err)
	}
	return &result, nil
}

// Put stores result under chain with a fresh TTL, evicting the
// least-recently-used chain when a new chain would exceed capacity.
func (s *TrendingStore) Put(ctx context.Context, chain string, result *domain.TrendingResult) error {
	if chain == "" || result == nil {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode trending result: %w", err)
	}

	keys := []string{s.lruKey(), s.resultKey(chain)}
	score := s.score(chain).Score
	err = putScript.Run(ctx, s.client, keys,
		chain, data, s.ttl.Milliseconds(), score, s.capacity, s.prefix+":result:").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("store trending result: %w", err)
	}
	return nil
}

// Len returns the number of resident, unexpired chains.
func (s *TrendingStore) Len(ctx context.Context) (int, error) {
	resident, err := s.residentChains(ctx)
	if err != nil {
		return 0, err
	}
	return len(resident), nil
}

// residentChains returns chains whose result key still exists, pruning
// recency entries for keys Redis has already expired.
func (s *TrendingStore) residentChains(ctx context.Context) (map[string]struct{}, error) {
	chains, err := s.client.ZRange(ctx, s.lruKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list lru: %w", err)
	}
	if len(chains) == 0 {
		return map[string]struct{}{}, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(chains))
	for i, c := range chains {
		checks[i] = pipe.Exists(ctx, s.resultKey(c))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check resident chains: %w", err)
	}

	resident := make(map[string]struct{}, len(chains))
	var stale []interface{}
	for i, c := range chains {
		if checks[i].Val() > 0 {
			resident[c] = struct{}{}
		} else {
			stale = append(stale, c)
		}
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.lruKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune lru: %w", err)
		}
	}
	return resident, nil
}

func (s *TrendingStore) score(chain string) redis.Z {
	return redis.Z{Score: float64(s.now().UnixMilli()), Member: chain}
}
