package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folio/market-engine/internal/model"
)

// CachedStore wraps a primary PriceStore (PostgreSQL) with a Redis
// read-through cache of range queries. Writes go to the primary store and
// invalidate every cached range of the ticker; reads check Redis first then
// fall back to the primary.
type CachedStore struct {
	primary PriceStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary PriceStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRange(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error) {
	key := rangeKey(ticker, start, end)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var obs []model.PriceObservation
		if json.Unmarshal(data, &obs) == nil {
			return obs, nil
		}
	}

	// Cache miss: read from primary.
	obs, err := s.primary.GetRange(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(obs); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, key, data, s.ttl)
		pipe.SAdd(ctx, rangeIndexKey(ticker), key)
		pipe.Expire(ctx, rangeIndexKey(ticker), s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("redis range cache write failed", "ticker", ticker, "err", err)
		}
	}
	return obs, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Upsert(ctx context.Context, obs model.PriceObservation) (bool, error) {
	ok, err := s.primary.Upsert(ctx, obs)
	if err != nil {
		return false, err
	}
	s.invalidateRanges(ctx, obs.Ticker)
	return ok, nil
}

func (s *CachedStore) UpsertBulk(ctx context.Context, obs []model.PriceObservation) (int, error) {
	n, err := s.primary.UpsertBulk(ctx, obs)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, o := range obs {
		if !seen[o.Ticker] {
			seen[o.Ticker] = true
			s.invalidateRanges(ctx, o.Ticker)
		}
	}
	return n, nil
}

func (s *CachedStore) Invalidate(ctx context.Context, ticker string, day *time.Time) (int64, error) {
	n, err := s.primary.Invalidate(ctx, ticker, day)
	if err != nil {
		return 0, err
	}
	s.invalidateRanges(ctx, ticker)
	return n, nil
}

// --- Passthrough (not cached) ---

// DeleteBefore sweeps the primary; cached ranges age out on their own TTL.
func (s *CachedStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.primary.DeleteBefore(ctx, cutoff)
}

// --- Cache helpers ---

func (s *CachedStore) invalidateRanges(ctx context.Context, ticker string) {
	idx := rangeIndexKey(ticker)
	keys, err := s.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return
	}
	s.rdb.Del(ctx, append(keys, idx)...)
}

func rangeKey(ticker string, start, end time.Time) string {
	return fmt.Sprintf("prices:%s:%s:%s", ticker, model.DateKey(start), model.DateKey(end))
}

func rangeIndexKey(ticker string) string { return fmt.Sprintf("prices:%s:ranges", ticker) }
