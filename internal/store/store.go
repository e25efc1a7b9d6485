// Package store defines the durable price store used by the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over ranges), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/folio/market-engine/internal/model"
)

// ErrInvalidObservation is returned for observations without a ticker or date.
var ErrInvalidObservation = errors.New("store: invalid price observation")

// PriceStore persists daily closes keyed by (ticker, date). Writes are
// upserts; rows are only removed by the retention sweep or an explicit
// invalidation.
type PriceStore interface {
	// GetRange returns stored observations for ticker with dates in
	// [start, end], ordered by date.
	GetRange(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error)

	// Upsert inserts or replaces one observation. It reports whether the
	// row was written.
	Upsert(ctx context.Context, obs model.PriceObservation) (bool, error)

	// UpsertBulk writes observations atomically and returns how many were stored.
	UpsertBulk(ctx context.Context, obs []model.PriceObservation) (int, error)

	// DeleteBefore removes rows stored before cutoff (retention sweep).
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Invalidate removes rows for ticker, or only the given day when day is non-nil.
	Invalidate(ctx context.Context, ticker string, day *time.Time) (int64, error)
}

func validate(obs model.PriceObservation) error {
	if obs.Ticker == "" || obs.Date.IsZero() {
		return ErrInvalidObservation
	}
	return nil
}
