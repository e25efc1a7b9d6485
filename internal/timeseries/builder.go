package timeseries

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/folio/market-engine/internal/model"
)

// SeriesSource returns gap-filled daily closes keyed by YYYY-MM-DD.
type SeriesSource interface {
	Series(ctx context.Context, ticker string, start, end time.Time) (map[string]decimal.Decimal, error)
	PriceOn(ctx context.Context, ticker string, day time.Time) model.Lookup
}

// IntradaySource returns today's samples for a ticker.
type IntradaySource interface {
	Intraday(ctx context.Context, ticker string) ([]model.IntradayPoint, bool)
}

// Builder loads the prices a portfolio needs and builds its series.
type Builder struct {
	daily    SeriesSource
	intraday IntradaySource
	workers  int
	now      func() time.Time
}

// NewBuilder creates a builder. workers bounds per-ticker loading.
func NewBuilder(daily SeriesSource, intraday IntradaySource, workers int, now func() time.Time) *Builder {
	if workers <= 0 {
		workers = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{daily: daily, intraday: intraday, workers: workers, now: now}
}

// Daily loads each ticker's closes from its earliest purchase date to today
// and builds the daily series.
func (b *Builder) Daily(ctx context.Context, holdings []model.Holding) []model.PortfolioSnapshot {
	now := b.now()
	today := model.Day(now)

	starts := make(map[string]time.Time)
	for _, h := range holdings {
		d := model.Day(h.PurchaseDate)
		if s, ok := starts[h.Ticker]; !ok || d.Before(s) {
			starts[h.Ticker] = d
		}
	}

	var mu sync.Mutex
	prices := make(map[string]map[string]decimal.Decimal, len(starts))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for ticker, start := range starts {
		g.Go(func() error {
			s, err := b.daily.Series(ctx, ticker, start, today)
			if err != nil {
				slog.Warn("daily series unavailable", "ticker", ticker, "err", err)
				return nil
			}
			mu.Lock()
			prices[ticker] = s
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return Daily(holdings, prices, now)
}

// Intraday loads today's samples and each holding's purchase-date price and
// builds the intraday series.
func (b *Builder) Intraday(ctx context.Context, holdings []model.Holding) []model.PortfolioSnapshot {
	var mu sync.Mutex
	points := make(map[string][]model.IntradayPoint)
	base := make(map[string]decimal.Decimal)

	type lot struct {
		ticker string
		day    time.Time
	}
	lots := make(map[string]lot)
	tickers := make(map[string]bool)
	for _, h := range holdings {
		lots[BaseKey(h.Ticker, h.PurchaseDate)] = lot{ticker: h.Ticker, day: model.Day(h.PurchaseDate)}
		tickers[h.Ticker] = true
	}

	var g errgroup.Group
	g.SetLimit(b.workers)
	for ticker := range tickers {
		g.Go(func() error {
			pts, ok := b.intraday.Intraday(ctx, ticker)
			if !ok {
				return nil
			}
			mu.Lock()
			points[ticker] = pts
			mu.Unlock()
			return nil
		})
	}
	for key, l := range lots {
		g.Go(func() error {
			p := b.daily.PriceOn(ctx, l.ticker, l.day)
			if !p.OK() {
				slog.Warn("intraday base price unavailable", "ticker", l.ticker, "date", model.DateKey(l.day))
				return nil
			}
			mu.Lock()
			base[key] = p.Price
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return Intraday(holdings, points, base)
}
