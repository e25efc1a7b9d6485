package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/folio/market-engine/internal/model"
)

type memoryRow struct {
	obs      model.PriceObservation
	storedAt time.Time
}

// MemoryStore implements PriceStore with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	prices map[string]map[string]memoryRow // ticker -> date key -> row
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices: make(map[string]map[string]memoryRow),
		now:    time.Now,
	}
}

func (s *MemoryStore) GetRange(_ context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end = model.Day(start), model.Day(end)
	var result []model.PriceObservation
	for _, row := range s.prices[ticker] {
		if row.obs.Date.Before(start) || row.obs.Date.After(end) {
			continue
		}
		result = append(result, row.obs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (s *MemoryStore) Upsert(_ context.Context, obs model.PriceObservation) (bool, error) {
	if err := validate(obs); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(obs)
	return true, nil
}

func (s *MemoryStore) UpsertBulk(_ context.Context, obs []model.PriceObservation) (int, error) {
	for _, o := range obs {
		if err := validate(o); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		s.put(o)
	}
	return len(obs), nil
}

// put writes one row; caller holds the write lock.
func (s *MemoryStore) put(obs model.PriceObservation) {
	obs.Date = model.Day(obs.Date)
	byDate, ok := s.prices[obs.Ticker]
	if !ok {
		byDate = make(map[string]memoryRow)
		s.prices[obs.Ticker] = byDate
	}
	key := model.DateKey(obs.Date)
	if existing, ok := byDate[key]; ok && obs.Volume == nil {
		obs.Volume = existing.obs.Volume
	}
	byDate[key] = memoryRow{obs: obs, storedAt: s.now()}
}

func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for ticker, byDate := range s.prices {
		for key, row := range byDate {
			if row.storedAt.Before(cutoff) {
				delete(byDate, key)
				deleted++
			}
		}
		if len(byDate) == 0 {
			delete(s.prices, ticker)
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Invalidate(_ context.Context, ticker string, day *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate := s.prices[ticker]
	if day == nil {
		n := int64(len(byDate))
		delete(s.prices, ticker)
		return n, nil
	}
	key := model.DateKey(model.Day(*day))
	if _, ok := byDate[key]; !ok {
		return 0, nil
	}
	delete(byDate, key)
	return 1, nil
}
