// Package fetcher wraps the market-data provider with the retry policy, the
// process cache, and price-update notifications.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/provider"
	"github.com/folio/market-engine/internal/retry"
)

// errEmpty marks a provider answer with nothing usable in it.
var errEmpty = errors.New("fetcher: empty result")

// Sink receives price-update events. Publish must not block.
type Sink interface {
	Publish(event model.PriceEvent) error
}

type discardSink struct{}

func (discardSink) Publish(model.PriceEvent) error { return nil }

const defaultWorkers = 10

// Fetcher resolves prices from the provider. The Fetch* methods always go
// to the provider; CurrentPrice, AssetName, Intraday and MultiplePrices read
// the cache first and write back on success.
type Fetcher struct {
	provider provider.Provider
	cache    *cache.Cache
	policy   retry.Policy
	sink     Sink
	workers  int
	now      func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

// WithSink sets the price-update sink.
func WithSink(s Sink) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sink = s
		}
	}
}

// WithWorkers bounds the fan-out of MultiplePrices.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithClock overrides the time source used for event timestamps and
// validation windows.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a fetcher.
func New(p provider.Provider, c *cache.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider: p,
		cache:    c,
		policy:   retry.New(retry.DefaultMaxAttempts, retry.DefaultBaseDelay),
		sink:     discardSink{},
		workers:  defaultWorkers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Now returns the fetcher's clock reading.
func (f *Fetcher) Now() time.Time { return f.now() }

// FetchCurrent fetches the latest price with retries. A successful fetch
// publishes a price_update event.
func (f *Fetcher) FetchCurrent(ctx context.Context, ticker string) model.Lookup {
	var price decimal.Decimal
	err := f.policy.Do(ctx, "current", func(ctx context.Context) error {
		p, err := f.provider.Current(ctx, ticker)
		if err != nil {
			return err
		}
		if !p.IsPositive() {
			return errEmpty
		}
		price = p
		return nil
	})
	if err != nil {
		return f.miss(ctx, "current", ticker, err)
	}
	f.publish(ticker, price)
	return model.Hit(price)
}

// FetchRange fetches daily closes in [start, end]. It reports false when the
// provider had no data after the retry budget.
func (f *Fetcher) FetchRange(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, bool) {
	var obs []model.PriceObservation
	err := f.policy.Do(ctx, "history", func(ctx context.Context) error {
		rows, err := f.provider.History(ctx, ticker, start, end)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errEmpty
		}
		obs = rows
		return nil
	})
	if err != nil {
		f.miss(ctx, "history", ticker, err)
		return nil, false
	}
	return obs, true
}

// FetchIntraday fetches today's samples.
func (f *Fetcher) FetchIntraday(ctx context.Context, ticker string) ([]model.IntradayPoint, bool) {
	var points []model.IntradayPoint
	err := f.policy.Do(ctx, "intraday", func(ctx context.Context) error {
		rows, err := f.provider.Intraday(ctx, ticker)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errEmpty
		}
		points = rows
		return nil
	})
	if err != nil {
		f.miss(ctx, "intraday", ticker, err)
		return nil, false
	}
	return points, true
}

// Validate reports whether the provider knows ticker. It makes a single
// attempt over the last week of daily history.
func (f *Fetcher) Validate(ctx context.Context, ticker string) bool {
	end := model.Day(f.now())
	rows, err := f.provider.History(ctx, ticker, end.AddDate(0, 0, -7), end)
	return err == nil && len(rows) > 0
}

// FetchName returns the instrument's long name, then short name, then the
// ticker itself. It makes a single attempt.
func (f *Fetcher) FetchName(ctx context.Context, ticker string) string {
	info, err := f.provider.Info(ctx, ticker)
	if err != nil {
		slog.Debug("asset name lookup failed", "ticker", ticker, "err", err)
		return ticker
	}
	info.Ticker = ticker
	return info.DisplayName()
}

// CurrentPrice returns the cached current price, fetching on a miss.
func (f *Fetcher) CurrentPrice(ctx context.Context, ticker string) model.Lookup {
	if p, ok := cache.Get[decimal.Decimal](f.cache, cache.Current, ticker); ok {
		return model.Hit(p)
	}
	l := f.FetchCurrent(ctx, ticker)
	if l.OK() {
		f.cache.Put(cache.Current, ticker, l.Price)
	}
	return l
}

// Refresh fetches the current price regardless of the cache and stores it.
func (f *Fetcher) Refresh(ctx context.Context, ticker string) model.Lookup {
	l := f.FetchCurrent(ctx, ticker)
	if l.OK() {
		f.cache.Put(cache.Current, ticker, l.Price)
	}
	return l
}

// AssetName returns the cached name, fetching on a miss. Ticker fallbacks
// are not cached so a later lookup can still find the real name.
func (f *Fetcher) AssetName(ctx context.Context, ticker string) string {
	if name, ok := cache.Get[string](f.cache, cache.Name, ticker); ok {
		return name
	}
	name := f.FetchName(ctx, ticker)
	if name != ticker {
		f.cache.Put(cache.Name, ticker, name)
	}
	return name
}

// Intraday returns today's cached samples, fetching on a miss.
func (f *Fetcher) Intraday(ctx context.Context, ticker string) ([]model.IntradayPoint, bool) {
	if pts, ok := cache.Get[[]model.IntradayPoint](f.cache, cache.Intraday, ticker); ok {
		return pts, true
	}
	pts, ok := f.FetchIntraday(ctx, ticker)
	if ok {
		f.cache.Put(cache.Intraday, ticker, pts)
	}
	return pts, ok
}

// MultiplePrices resolves current prices for a set of tickers. Duplicates
// are fetched once; tickers without data are left out of the result.
func (f *Fetcher) MultiplePrices(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	unique := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if t != "" && !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}

	var mu sync.Mutex
	out := make(map[string]decimal.Decimal, len(unique))

	var g errgroup.Group
	g.SetLimit(f.workers)
	for _, t := range unique {
		g.Go(func() error {
			if l := f.CurrentPrice(ctx, t); l.OK() {
				mu.Lock()
				out[t] = l.Price
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return out
}

func (f *Fetcher) publish(ticker string, price decimal.Decimal) {
	err := f.sink.Publish(model.PriceEvent{
		ID:        uuid.NewString(),
		Type:      model.EventPriceUpdate,
		Ticker:    ticker,
		Price:     price,
		Timestamp: f.now().UTC(),
	})
	if err != nil {
		slog.Warn("price event publish failed", "ticker", ticker, "err", err)
	}
}

// miss logs an exhausted fetch. Context errors surface as Failed so callers
// can tell a deadline from a provider without data.
func (f *Fetcher) miss(ctx context.Context, op, ticker string, err error) model.Lookup {
	if ctx.Err() != nil {
		slog.Warn("fetch abandoned", "op", op, "ticker", ticker, "err", ctx.Err())
		return model.Failed(ctx.Err())
	}
	slog.Warn("no data after retries", "op", op, "ticker", ticker, "err", err)
	return model.Miss()
}
