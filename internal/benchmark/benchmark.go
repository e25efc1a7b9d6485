// Package benchmark fetches a market index series and aligns its performance
// with a portfolio series by date.
package benchmark

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/provider"
	"github.com/folio/market-engine/internal/retry"
)

// DefaultSymbol is the S&P 500 index.
const DefaultSymbol = "^GSPC"

var hundred = decimal.NewFromInt(100)

// Aligner serves index closes from its own hour-long cache.
type Aligner struct {
	provider provider.Provider
	symbol   string
	policy   retry.Policy
	cache    *cache.Cache
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithSymbol sets the index symbol.
func WithSymbol(s string) Option {
	return func(a *Aligner) {
		if s != "" {
			a.symbol = s
		}
	}
}

// WithPolicy sets the retry policy for index fetches.
func WithPolicy(p retry.Policy) Option {
	return func(a *Aligner) { a.policy = p }
}

// WithCache replaces the aligner's private cache.
func WithCache(c *cache.Cache) Option {
	return func(a *Aligner) { a.cache = c }
}

// New creates an aligner over p.
func New(p provider.Provider, opts ...Option) *Aligner {
	a := &Aligner{
		provider: p,
		symbol:   DefaultSymbol,
		policy:   retry.New(retry.DefaultMaxAttempts, retry.DefaultBaseDelay),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.New(cache.WithShards(1))
	}
	return a
}

// Symbol returns the index symbol.
func (a *Aligner) Symbol() string { return a.symbol }

// History returns index closes in [start, end] keyed by YYYY-MM-DD. A failed
// fetch yields an empty map and is not cached.
func (a *Aligner) History(ctx context.Context, start, end time.Time) map[string]decimal.Decimal {
	start, end = model.Day(start), model.Day(end)
	key := a.symbol + "|" + model.DateKey(start) + "|" + model.DateKey(end)
	if closes, ok := cache.Get[map[string]decimal.Decimal](a.cache, cache.Benchmark, key); ok {
		return maps.Clone(closes)
	}

	var obs []model.PriceObservation
	err := a.policy.Do(ctx, "benchmark", func(ctx context.Context) error {
		rows, err := a.provider.History(ctx, a.symbol, start, end)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return provider.ErrNoData
		}
		obs = rows
		return nil
	})
	if err != nil {
		slog.Error("benchmark fetch failed", "symbol", a.symbol, "start", model.DateKey(start), "end", model.DateKey(end), "err", err)
		return map[string]decimal.Decimal{}
	}

	closes := make(map[string]decimal.Decimal, len(obs))
	for _, o := range obs {
		closes[model.DateKey(o.Date)] = o.Close
	}
	a.cache.Put(cache.Benchmark, key, maps.Clone(closes))
	slog.Info("benchmark fetched", "symbol", a.symbol, "points", len(closes))
	return closes
}

// PercentChangeSeries converts closes to percentage changes from the close
// on baseKey, rounded to two places. It is empty when baseKey has no
// non-zero close.
func PercentChangeSeries(closes map[string]decimal.Decimal, baseKey string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(closes))
	base, ok := closes[baseKey]
	if !ok || base.IsZero() {
		return out
	}
	for k, c := range closes {
		out[k] = c.Sub(base).Div(base).Mul(hundred).Round(2)
	}
	return out
}

// Align returns the index performance on each portfolio date that has an
// index close, based at the first such date.
func (a *Aligner) Align(ctx context.Context, portfolio []model.PortfolioSnapshot) []model.BenchmarkPoint {
	out := []model.BenchmarkPoint{}
	if len(portfolio) == 0 {
		return out
	}

	start, err := model.ParseDateKey(portfolio[0].Date)
	if err != nil {
		return out
	}
	end, err := model.ParseDateKey(portfolio[len(portfolio)-1].Date)
	if err != nil {
		return out
	}
	closes := a.History(ctx, start, end)

	baseKey := ""
	for _, p := range portfolio {
		if _, ok := closes[p.Date]; ok {
			baseKey = p.Date
			break
		}
	}
	if baseKey == "" {
		return out
	}

	pct := PercentChangeSeries(closes, baseKey)
	for _, p := range portfolio {
		if v, ok := pct[p.Date]; ok {
			out = append(out, model.BenchmarkPoint{Date: p.Date, PercentageChange: v})
		}
	}
	return out
}

// AlignIntraday is not supported for the index and always returns an empty
// series.
func (a *Aligner) AlignIntraday(context.Context, []model.PortfolioSnapshot) []model.BenchmarkPoint {
	return []model.BenchmarkPoint{}
}
