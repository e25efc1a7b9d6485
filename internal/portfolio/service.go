// Package portfolio is the caller-facing engine: price lookups, ticker
// validation, portfolio valuation and performance series, plus the HTTP
// handlers that expose them.
//
// Holdings are supplied by the caller on every request and never persisted.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/benchmark"
	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/fetcher"
	"github.com/folio/market-engine/internal/gapfill"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/orchestrator"
	"github.com/folio/market-engine/internal/store"
	"github.com/folio/market-engine/internal/symbol"
	"github.com/folio/market-engine/internal/timeseries"
	"github.com/folio/market-engine/internal/valuation"
)

// ErrInvalidHolding is returned when a holding fails validation.
var ErrInvalidHolding = errors.New("portfolio: invalid holding")

// Deps are the components a Service composes. All fields are required.
type Deps struct {
	Fetcher      *fetcher.Fetcher
	History      *gapfill.Reconstructor
	Orchestrator *orchestrator.Orchestrator
	Builder      *timeseries.Builder
	Benchmark    *benchmark.Aligner
	Store        store.PriceStore
	Cache        *cache.Cache
}

// Service answers price and portfolio queries.
type Service struct {
	fetcher *fetcher.Fetcher
	history *gapfill.Reconstructor
	orch    *orchestrator.Orchestrator
	builder *timeseries.Builder
	bench   *benchmark.Aligner
	store   store.PriceStore
	cache   *cache.Cache
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	return &Service{
		fetcher: d.Fetcher,
		history: d.History,
		orch:    d.Orchestrator,
		builder: d.Builder,
		bench:   d.Benchmark,
		store:   d.Store,
		cache:   d.Cache,
	}
}

// GetCurrentPrice returns the latest price for ticker, or nil when none is
// available or the ticker is malformed.
func (s *Service) GetCurrentPrice(ctx context.Context, ticker string) *decimal.Decimal {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		return nil
	}
	return s.fetcher.CurrentPrice(ctx, sym.Ticker).PricePtr()
}

// GetHistoricalSeries returns daily closes in [start, end] keyed by
// YYYY-MM-DD.
func (s *Service) GetHistoricalSeries(ctx context.Context, ticker string, start, end time.Time) (map[string]decimal.Decimal, error) {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return map[string]decimal.Decimal{}, nil
	}
	return s.history.Series(ctx, sym.Ticker, start, end)
}

// GetMultiplePrices returns current prices for tickers. Malformed tickers
// and tickers without data are left out.
func (s *Service) GetMultiplePrices(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	valid := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if sym, err := symbol.Parse(t); err == nil {
			valid = append(valid, sym.Ticker)
		}
	}
	return s.fetcher.MultiplePrices(ctx, valid)
}

// ValidateTicker reports whether ticker is well formed and known to the
// market-data provider.
func (s *Service) ValidateTicker(ctx context.Context, ticker string) bool {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		return false
	}
	return s.fetcher.Validate(ctx, sym.Ticker)
}

// GetAssetName returns the instrument's display name, falling back to the
// normalized ticker.
func (s *Service) GetAssetName(ctx context.Context, ticker string) string {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		return symbol.Normalize(ticker)
	}
	return s.fetcher.AssetName(ctx, sym.Ticker)
}

// ComputePortfolioSummary values every holding against current market data
// and aggregates the result. Holdings whose prices could not be resolved are
// still included, valued with the no-change fallback.
func (s *Service) ComputePortfolioSummary(ctx context.Context, holdings []model.Holding) (model.Summary, error) {
	holdings, err := prepare(holdings)
	if err != nil {
		return model.Summary{}, err
	}

	results := s.orch.Run(ctx, holdings)
	valued := make([]model.ValuedHolding, 0, len(results))
	for _, r := range results {
		v := valuation.Value(r.Holding, r.Current.PricePtr(), r.Purchase.PricePtr())
		if r.Name != "" {
			v.Name = r.Name
		}
		valued = append(valued, v)
	}
	return present(valuation.Summarize(valued)), nil
}

// GetPortfolioHistory returns the daily value series from the earliest
// purchase date to today, aligned with the benchmark index.
func (s *Service) GetPortfolioHistory(ctx context.Context, holdings []model.Holding) (model.History, error) {
	holdings, err := prepare(holdings)
	if err != nil {
		return model.History{}, err
	}
	series := roundSeries(s.builder.Daily(ctx, holdings))
	return model.History{
		History:          series,
		BenchmarkHistory: s.bench.Align(ctx, series),
	}, nil
}

// GetPortfolioIntradayHistory returns today's 5-minute value series. The
// benchmark series is always empty.
func (s *Service) GetPortfolioIntradayHistory(ctx context.Context, holdings []model.Holding) (model.History, error) {
	holdings, err := prepare(holdings)
	if err != nil {
		return model.History{}, err
	}
	series := roundSeries(s.builder.Intraday(ctx, holdings))
	return model.History{
		History:          series,
		BenchmarkHistory: s.bench.AlignIntraday(ctx, series),
	}, nil
}

// InvalidatePrices drops stored closes for ticker, for one day when day is
// non-nil, and evicts every cached view of ticker.
func (s *Service) InvalidatePrices(ctx context.Context, ticker string, day *time.Time) (int64, error) {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Invalidate(ctx, sym.Ticker, day)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", sym.Ticker, err)
	}

	s.cache.Delete(cache.Current, sym.Ticker)
	s.cache.Delete(cache.Intraday, sym.Ticker)
	prefix := sym.Ticker + "|"
	series := func(k string) bool { return strings.HasPrefix(k, prefix) }
	evicted := s.cache.DeleteFunc(cache.Historical, series) + s.cache.DeleteFunc(cache.Current, series)

	slog.Info("prices invalidated", "ticker", sym.Ticker, "rows", n, "cached_series", evicted)
	return n, nil
}

// prepare normalizes tickers and validates every holding.
func prepare(holdings []model.Holding) ([]model.Holding, error) {
	out := make([]model.Holding, len(holdings))
	for i, h := range holdings {
		sym, err := symbol.Parse(h.Ticker)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHolding, h.ID, err)
		}
		h.Ticker = sym.Ticker
		if h.TradeType == "" {
			h.TradeType = model.Buy
		}
		if h.AssetType == "" {
			h.AssetType = sym.AssetTypeHint()
		}
		if err := h.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHolding, err)
		}
		out[i] = h
	}
	return out, nil
}

// present rounds percentages for display. Values keep full precision.
func present(s model.Summary) model.Summary {
	s.TotalPercentageChange = valuation.RoundPercent(s.TotalPercentageChange)
	for i := range s.Holdings {
		s.Holdings[i].PercentageChange = valuation.RoundPercent(s.Holdings[i].PercentageChange)
	}
	for i := range s.Allocation {
		s.Allocation[i].Percentage = valuation.RoundPercent(s.Allocation[i].Percentage)
	}
	return s
}

func roundSeries(series []model.PortfolioSnapshot) []model.PortfolioSnapshot {
	for i := range series {
		series[i].PercentageChange = valuation.RoundPercent(series[i].PercentageChange)
	}
	return series
}
