// Package gapfill reconstructs contiguous daily price series by reading the
// durable store and fetching only the dates it is missing.
package gapfill

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/metrics"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/store"
)

// lookahead is how far PriceOn searches for the first close on or after a day.
const lookahead = 7

// RangeFetcher fetches daily closes from the market-data provider.
type RangeFetcher interface {
	FetchRange(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, bool)
}

// Reconstructor merges stored observations with provider back-fills.
type Reconstructor struct {
	store        store.PriceStore
	fetcher      RangeFetcher
	cache        *cache.Cache
	skipWeekends bool
	now          func() time.Time
	loads        singleflight.Group
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithWeekendSkip controls whether Saturdays and Sundays count when deciding
// to fetch. It is on by default; FindMissingDates always reports them.
func WithWeekendSkip(on bool) Option {
	return func(r *Reconstructor) { r.skipWeekends = on }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) { r.now = now }
}

// New creates a reconstructor.
func New(st store.PriceStore, f RangeFetcher, c *cache.Cache, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		store:        st,
		fetcher:      f,
		cache:        c,
		skipWeekends: true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindMissingDates returns every calendar day in [start, end] that has no
// stored observation for ticker, in ascending order.
func (r *Reconstructor) FindMissingDates(ctx context.Context, ticker string, start, end time.Time) ([]time.Time, error) {
	rows, err := r.store.GetRange(ctx, ticker, model.Day(start), model.Day(end))
	if err != nil {
		return nil, fmt.Errorf("get range %s: %w", ticker, err)
	}
	return missingDays(start, end, toSeries(rows)), nil
}

// Series returns ticker's closes in [start, end] keyed by YYYY-MM-DD. The
// historical cache is consulted first; on a miss the store is read, the
// missing span is fetched once, and new observations are written back.
// Concurrent misses for the same range share one load. A range reaching
// today is cached with the short-lived current prices, since today's close
// is not final.
func (r *Reconstructor) Series(ctx context.Context, ticker string, start, end time.Time) (map[string]decimal.Decimal, error) {
	start, end = model.Day(start), model.Day(end)
	key := seriesKey(ticker, start, end)
	if s, ok := cache.Get[map[string]decimal.Decimal](r.cache, r.bucketFor(end), key); ok {
		return maps.Clone(s), nil
	}

	v, err, _ := r.loads.Do(key, func() (any, error) {
		return r.load(ctx, ticker, start, end, key)
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(v.(map[string]decimal.Decimal)), nil
}

func (r *Reconstructor) load(ctx context.Context, ticker string, start, end time.Time, key string) (map[string]decimal.Decimal, error) {
	series := make(map[string]decimal.Decimal)
	rows, err := r.store.GetRange(ctx, ticker, start, end)
	if err != nil {
		slog.Warn("price store read failed, fetching from provider", "ticker", ticker, "err", err)
	} else {
		series = toSeries(rows)
	}

	missing := r.fetchable(missingDays(start, end, series))
	if len(missing) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.GapFillFetches.Inc()
		obs, ok := r.fetcher.FetchRange(ctx, ticker, missing[0], missing[len(missing)-1])
		if ok {
			r.persist(ctx, obs)
			for _, o := range obs {
				d := model.Day(o.Date)
				if d.Before(start) || d.After(end) {
					continue
				}
				series[model.DateKey(d)] = o.Close
			}
		}
	}

	if len(series) > 0 {
		r.cache.Put(r.bucketFor(end), key, maps.Clone(series))
	}
	return series, nil
}

func (r *Reconstructor) bucketFor(end time.Time) cache.Bucket {
	if end.Before(model.Day(r.now())) {
		return cache.Historical
	}
	return cache.Current
}

// PriceOn returns the close on day, or the first close within the following
// week when day was not a trading day.
func (r *Reconstructor) PriceOn(ctx context.Context, ticker string, day time.Time) model.Lookup {
	day = model.Day(day)
	end := day.AddDate(0, 0, lookahead-1)
	if today := model.Day(r.now()); end.After(today) {
		end = today
	}
	if end.Before(day) {
		return model.Miss()
	}

	series, err := r.Series(ctx, ticker, day, end)
	if err != nil {
		return model.Failed(err)
	}
	for _, d := range model.DaysBetween(day, end) {
		if p, ok := series[model.DateKey(d)]; ok {
			return model.Hit(p)
		}
	}
	return model.Miss()
}

// persist writes settled observations in one batch. Rows dated today or
// later are still forming and are only served and cached in process. When
// the batch fails each row is retried alone; failures are logged and skipped
// so the fetched values are still served.
func (r *Reconstructor) persist(ctx context.Context, obs []model.PriceObservation) {
	today := model.Day(r.now())
	settled := make([]model.PriceObservation, 0, len(obs))
	for _, o := range obs {
		o.Date = model.Day(o.Date)
		if o.Date.Before(today) {
			settled = append(settled, o)
		}
	}
	if len(settled) == 0 {
		return
	}
	_, err := r.store.UpsertBulk(ctx, settled)
	if err == nil {
		return
	}
	slog.Warn("bulk price write failed, writing rows one by one", "ticker", settled[0].Ticker, "rows", len(settled), "err", err)
	for _, o := range settled {
		if _, err := r.store.Upsert(ctx, o); err != nil {
			metrics.StoreWriteFailures.Inc()
			slog.Error("price store write failed", "ticker", o.Ticker, "date", model.DateKey(o.Date), "err", err)
		}
	}
}

func (r *Reconstructor) fetchable(days []time.Time) []time.Time {
	if !r.skipWeekends {
		return days
	}
	out := days[:0]
	for _, d := range days {
		if !model.IsWeekend(d) {
			out = append(out, d)
		}
	}
	return out
}

func missingDays(start, end time.Time, have map[string]decimal.Decimal) []time.Time {
	var missing []time.Time
	for _, d := range model.DaysBetween(start, end) {
		if _, ok := have[model.DateKey(d)]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

func toSeries(rows []model.PriceObservation) map[string]decimal.Decimal {
	s := make(map[string]decimal.Decimal, len(rows))
	for _, o := range rows {
		s[model.DateKey(o.Date)] = o.Close
	}
	return s
}

func seriesKey(ticker string, start, end time.Time) string {
	return ticker + "|" + model.DateKey(start) + "|" + model.DateKey(end)
}
