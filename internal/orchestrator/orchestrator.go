// Package orchestrator fans out per-holding price resolution over a bounded
// worker pool. A failing holding never aborts the batch.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/folio/market-engine/internal/metrics"
	"github.com/folio/market-engine/internal/model"
)

const (
	DefaultWorkers  = 10
	DefaultDeadline = 30 * time.Second
)

// PriceSource resolves current prices and names, cache first.
type PriceSource interface {
	MultiplePrices(ctx context.Context, tickers []string) map[string]decimal.Decimal
	AssetName(ctx context.Context, ticker string) string
}

// PurchasePricer resolves the close on a purchase date.
type PurchasePricer interface {
	PriceOn(ctx context.Context, ticker string, day time.Time) model.Lookup
}

// Result is the resolved market data for one holding. On failure Name is the
// ticker, the unresolved lookups are Miss or Failed, and Err says why.
type Result struct {
	Holding  model.Holding
	Name     string
	Current  model.Lookup
	Purchase model.Lookup
	Err      error
}

// Orchestrator runs batches of holdings.
type Orchestrator struct {
	prices   PriceSource
	history  PurchasePricer
	workers  int
	deadline time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the worker-pool width.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithDeadline bounds the whole batch. Zero disables the deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.deadline = d
		}
	}
}

// New creates an orchestrator.
func New(prices PriceSource, history PurchasePricer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prices:   prices,
		history:  history,
		workers:  DefaultWorkers,
		deadline: DefaultDeadline,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Workers returns the pool width.
func (o *Orchestrator) Workers() int { return o.workers }

// Run resolves current price, purchase-date price and name for every
// holding. Results are in input order and every holding gets one, whatever
// happened to its task.
func (o *Orchestrator) Run(ctx context.Context, holdings []model.Holding) []Result {
	start := time.Now()
	defer func() { metrics.BatchLatency.Observe(time.Since(start).Seconds()) }()

	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	tickers := make([]string, len(holdings))
	for i, h := range holdings {
		tickers[i] = h.Ticker
	}
	current := o.prices.MultiplePrices(ctx, tickers)

	results := make([]Result, len(holdings))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, h := range holdings {
		results[i] = Result{
			Holding:  h,
			Name:     h.Ticker,
			Current:  model.Miss(),
			Purchase: model.Miss(),
		}
		if p, ok := current[h.Ticker]; ok {
			results[i].Current = model.Hit(p)
		}
		g.Go(func() error {
			o.resolve(ctx, &results[i])
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) resolve(ctx context.Context, r *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Err = fmt.Errorf("holding %s: panic: %v", r.Holding.Ticker, rec)
			r.Name = r.Holding.Ticker
			if !r.Purchase.OK() {
				r.Purchase = model.Failed(r.Err)
			}
			o.fail(r)
		}
	}()

	r.Purchase = o.history.PriceOn(ctx, r.Holding.Ticker, r.Holding.PurchaseDate)
	if r.Purchase.Kind == model.LookupError {
		r.Err = fmt.Errorf("holding %s: purchase price: %w", r.Holding.Ticker, r.Purchase.Err)
		o.fail(r)
	}
	r.Name = o.prices.AssetName(ctx, r.Holding.Ticker)
}

func (o *Orchestrator) fail(r *Result) {
	metrics.HoldingFailures.Inc()
	slog.Warn("holding fetch failed, using fallback", "ticker", r.Holding.Ticker, "holding", r.Holding.ID, "err", r.Err)
}
