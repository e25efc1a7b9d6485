package gapfill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/fetcher"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/provider/providertest"
	"github.com/folio/market-engine/internal/retry"
	"github.com/folio/market-engine/internal/store"
)

func day(s string) time.Time {
	d, err := model.ParseDateKey(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// 2024-01-01 is a Monday.
var (
	mon = day("2024-01-01")
	sun = day("2024-01-07")
)

type harness struct {
	store    *store.MemoryStore
	provider *providertest.Fake
	cache    *cache.Cache
	recon    *Reconstructor
}

func newHarness(st store.PriceStore, opts ...Option) *harness {
	mem, _ := st.(*store.MemoryStore)
	p := providertest.NewFake()
	c := cache.New()
	f := fetcher.New(p, c, fetcher.WithPolicy(retry.New(1, 0)))
	opts = append([]Option{WithClock(func() time.Time { return day("2024-03-01") })}, opts...)
	return &harness{store: mem, provider: p, cache: c, recon: New(st, f, c, opts...)}
}

func TestFindMissingDates_FullyStoredIsEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	for _, d := range model.DaysBetween(mon, sun) {
		_, err := h.store.Upsert(ctx, model.PriceObservation{Ticker: "AAPL", Date: d, Close: dec(1)})
		require.NoError(t, err)
	}

	missing, err := h.recon.FindMissingDates(ctx, "AAPL", mon, sun)

	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFindMissingDates_NothingStoredIsEveryDay(t *testing.T) {
	h := newHarness(store.NewMemoryStore())

	missing, err := h.recon.FindMissingDates(context.Background(), "AAPL", mon, sun)

	require.NoError(t, err)
	assert.Equal(t, model.DaysBetween(mon, sun), missing)
}

func TestFindMissingDates_Partial(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	h.store.Upsert(ctx, model.PriceObservation{Ticker: "AAPL", Date: day("2024-01-02"), Close: dec(1)})

	missing, err := h.recon.FindMissingDates(ctx, "AAPL", mon, day("2024-01-03"))

	require.NoError(t, err)
	assert.Equal(t, []time.Time{mon, day("2024-01-03")}, missing)
}

func TestSeries_FetchesOnlyMissingSpanAndPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	for _, d := range []string{"2024-01-01", "2024-01-02"} {
		h.store.Upsert(ctx, model.PriceObservation{Ticker: "AAPL", Date: day(d), Close: dec(10)})
	}
	for _, d := range []string{"2024-01-03", "2024-01-04", "2024-01-05"} {
		h.provider.SetClose("AAPL", d, dec(11))
	}

	series, err := h.recon.Series(ctx, "AAPL", mon, sun)

	require.NoError(t, err)
	assert.Len(t, series, 5)
	assert.True(t, series["2024-01-01"].Equal(dec(10)))
	assert.True(t, series["2024-01-05"].Equal(dec(11)))
	assert.Equal(t, 1, h.provider.Calls("history", "AAPL"))

	stored, _ := h.store.GetRange(ctx, "AAPL", mon, sun)
	assert.Len(t, stored, 5)
}

func TestSeries_CachedAfterFirstCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	h.provider.SetClose("AAPL", "2024-01-02", dec(5))

	first, _ := h.recon.Series(ctx, "AAPL", mon, day("2024-01-02"))
	first["2024-01-02"] = dec(999)
	second, _ := h.recon.Series(ctx, "AAPL", mon, day("2024-01-02"))

	assert.Equal(t, 1, h.provider.Calls("history", "AAPL"))
	assert.True(t, second["2024-01-02"].Equal(dec(5)), "cached map must not alias the caller's copy")
}

func TestSeries_WeekendOnlyGapDoesNotFetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	for _, d := range model.DaysBetween(mon, day("2024-01-05")) {
		h.store.Upsert(ctx, model.PriceObservation{Ticker: "AAPL", Date: d, Close: dec(1)})
	}

	series, err := h.recon.Series(ctx, "AAPL", mon, sun)

	require.NoError(t, err)
	assert.Len(t, series, 5)
	assert.Zero(t, h.provider.Calls("history", "AAPL"))
}

func TestSeries_WeekendSkipDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore(), WithWeekendSkip(false))
	for _, d := range model.DaysBetween(mon, day("2024-01-05")) {
		h.store.Upsert(ctx, model.PriceObservation{Ticker: "AAPL", Date: d, Close: dec(1)})
	}

	h.recon.Series(ctx, "AAPL", mon, sun)

	assert.Equal(t, 1, h.provider.Calls("history", "AAPL"))
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Upsert(context.Context, model.PriceObservation) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) UpsertBulk(context.Context, []model.PriceObservation) (int, error) {
	return 0, errors.New("connection refused")
}

// rejectingStore fails every batch and rejects single rows for one date.
type rejectingStore struct {
	*store.MemoryStore
	bad string
}

func (s rejectingStore) UpsertBulk(context.Context, []model.PriceObservation) (int, error) {
	return 0, errors.New("batch aborted")
}

func (s rejectingStore) Upsert(ctx context.Context, o model.PriceObservation) (bool, error) {
	if model.DateKey(o.Date) == s.bad {
		return false, errors.New("numeric overflow")
	}
	return s.MemoryStore.Upsert(ctx, o)
}

// bulkCountingStore records how writes reach the store.
type bulkCountingStore struct {
	*store.MemoryStore
	bulk, single atomic.Int32
}

func (s *bulkCountingStore) UpsertBulk(ctx context.Context, obs []model.PriceObservation) (int, error) {
	s.bulk.Add(1)
	return s.MemoryStore.UpsertBulk(ctx, obs)
}

func (s *bulkCountingStore) Upsert(ctx context.Context, o model.PriceObservation) (bool, error) {
	s.single.Add(1)
	return s.MemoryStore.Upsert(ctx, o)
}

func TestSeries_PersistsInOneBatch(t *testing.T) {
	ctx := context.Background()
	st := &bulkCountingStore{MemoryStore: store.NewMemoryStore()}
	h := newHarness(st)
	for _, d := range []string{"2024-01-02", "2024-01-03", "2024-01-04"} {
		h.provider.SetClose("AAPL", d, dec(11))
	}

	_, err := h.recon.Series(ctx, "AAPL", mon, day("2024-01-05"))

	require.NoError(t, err)
	assert.Equal(t, int32(1), st.bulk.Load())
	assert.Zero(t, st.single.Load())
	stored, _ := st.GetRange(ctx, "AAPL", mon, sun)
	assert.Len(t, stored, 3)
}

func TestSeries_BatchFailureFallsBackToRows(t *testing.T) {
	ctx := context.Background()
	st := rejectingStore{MemoryStore: store.NewMemoryStore(), bad: "2024-01-03"}
	h := newHarness(st)
	for _, d := range []string{"2024-01-02", "2024-01-03", "2024-01-04"} {
		h.provider.SetClose("AAPL", d, dec(11))
	}

	series, err := h.recon.Series(ctx, "AAPL", mon, day("2024-01-05"))

	require.NoError(t, err)
	assert.Len(t, series, 3, "a rejected row is still served")
	stored, _ := st.GetRange(ctx, "AAPL", mon, sun)
	require.Len(t, stored, 2)
	assert.Equal(t, "2024-01-02", model.DateKey(stored[0].Date))
	assert.Equal(t, "2024-01-04", model.DateKey(stored[1].Date))
}

func TestSeries_TodaysCloseIsServedButNotStored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(store.NewMemoryStore())
	today := day("2024-03-01")
	h.provider.SetClose("AAPL", "2024-02-29", dec(140))
	h.provider.SetClose("AAPL", "2024-03-01", dec(150))

	series, err := h.recon.Series(ctx, "AAPL", day("2024-02-29"), today)
	require.NoError(t, err)
	assert.True(t, series["2024-03-01"].Equal(dec(150)))

	stored, _ := h.store.GetRange(ctx, "AAPL", today, today)
	assert.Empty(t, stored, "an unfinished session must not be persisted")

	// The settled close replaces the intraday value once the cache lapses.
	h.provider.SetClose("AAPL", "2024-03-01", dec(160))
	h.cache.Clear()

	series, err = h.recon.Series(ctx, "AAPL", day("2024-02-29"), today)
	require.NoError(t, err)
	assert.True(t, series["2024-03-01"].Equal(dec(160)))
	assert.True(t, series["2024-02-29"].Equal(dec(140)))
}

// gatedFetcher blocks every range fetch until release is closed.
type gatedFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	obs     []model.PriceObservation
}

func (f *gatedFetcher) FetchRange(ctx context.Context, _ string, _, _ time.Time) ([]model.PriceObservation, bool) {
	f.calls.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, false
	}
	return f.obs, true
}

func TestSeries_ConcurrentMissesShareOneFetch(t *testing.T) {
	f := &gatedFetcher{release: make(chan struct{})}
	for _, d := range model.DaysBetween(mon, day("2024-01-05")) {
		f.obs = append(f.obs, model.PriceObservation{Ticker: "AAPL", Date: d, Close: dec(3)})
	}
	r := New(store.NewMemoryStore(), f, cache.New(), WithClock(func() time.Time { return day("2024-03-01") }))

	var wg sync.WaitGroup
	results := make([]map[string]decimal.Decimal, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Series(context.Background(), "AAPL", mon, day("2024-01-05"))
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, s := range results {
		assert.Len(t, s, 5)
	}
}

func TestSeries_WriteFailureStillServesFetchedValues(t *testing.T) {
	h := newHarness(failingStore{store.NewMemoryStore()})
	h.provider.SetClose("AAPL", "2024-01-02", dec(7))

	series, err := h.recon.Series(context.Background(), "AAPL", mon, day("2024-01-02"))

	require.NoError(t, err)
	assert.True(t, series["2024-01-02"].Equal(dec(7)))
}

func TestPriceOn_ExactDay(t *testing.T) {
	h := newHarness(store.NewMemoryStore())
	h.provider.SetClose("AAPL", "2024-01-03", dec(12))
	h.provider.SetClose("AAPL", "2024-01-04", dec(13))

	l := h.recon.PriceOn(context.Background(), "AAPL", day("2024-01-03"))

	require.True(t, l.OK())
	assert.True(t, l.Price.Equal(dec(12)))
}

func TestPriceOn_WeekendUsesNextTradingDay(t *testing.T) {
	h := newHarness(store.NewMemoryStore())
	h.provider.SetClose("AAPL", "2024-01-08", dec(20))
	h.provider.SetClose("AAPL", "2024-01-09", dec(21))

	l := h.recon.PriceOn(context.Background(), "AAPL", day("2024-01-06"))

	require.True(t, l.OK())
	assert.True(t, l.Price.Equal(dec(20)))
}

func TestPriceOn_NoDataIsMiss(t *testing.T) {
	h := newHarness(store.NewMemoryStore())

	l := h.recon.PriceOn(context.Background(), "AAPL", day("2024-01-03"))

	assert.Equal(t, model.LookupMiss, l.Kind)
}

func TestPriceOn_FutureDayIsMiss(t *testing.T) {
	h := newHarness(store.NewMemoryStore())

	l := h.recon.PriceOn(context.Background(), "AAPL", day("2024-06-01"))

	assert.Equal(t, model.LookupMiss, l.Kind)
	assert.Zero(t, h.provider.Calls("history", "AAPL"))
}
