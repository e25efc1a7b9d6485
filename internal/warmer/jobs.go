package warmer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/folio/market-engine/internal/model"
)

// ErrNothingWarmed is returned when no ticker of the watch list could be
// refreshed.
var ErrNothingWarmed = errors.New("warmer: no prices refreshed")

// Refresher re-fetches a current price into the cache.
type Refresher interface {
	Refresh(ctx context.Context, ticker string) model.Lookup
}

// Sweeper deletes stored prices older than a cutoff.
type Sweeper interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PriceWarmJob refreshes the current price of every watched ticker.
type PriceWarmJob struct {
	prices  Refresher
	tickers []string
}

// NewPriceWarmJob creates a warm job over tickers.
func NewPriceWarmJob(prices Refresher, tickers []string) *PriceWarmJob {
	return &PriceWarmJob{prices: prices, tickers: tickers}
}

func (j *PriceWarmJob) Name() string { return "warm-prices" }

func (j *PriceWarmJob) Run(ctx context.Context) error {
	if len(j.tickers) == 0 {
		return nil
	}
	warmed := 0
	for _, t := range j.tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.prices.Refresh(ctx, t).OK() {
			warmed++
		}
	}
	slog.Info("prices warmed", "warmed", warmed, "tickers", len(j.tickers))
	if warmed == 0 {
		return ErrNothingWarmed
	}
	return nil
}

// RetentionJob deletes closes stored longer ago than the retention window.
type RetentionJob struct {
	store     Sweeper
	retention time.Duration
	now       func() time.Time
}

// NewRetentionJob creates a retention sweep. A nil now uses time.Now.
func NewRetentionJob(st Sweeper, retention time.Duration, now func() time.Time) *RetentionJob {
	if now == nil {
		now = time.Now
	}
	return &RetentionJob{store: st, retention: retention, now: now}
}

func (j *RetentionJob) Name() string { return "price-retention" }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete before %s: %w", model.DateKey(cutoff), err)
	}
	slog.Info("price retention swept", "cutoff", model.DateKey(cutoff), "deleted", n)
	return nil
}
