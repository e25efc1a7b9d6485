// Package provider defines the external market-data source and its Yahoo
// Finance implementation.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/model"
)

// ErrNoData is returned when the provider answered but had nothing for the
// ticker (empty history, zero price). Callers treat it like a transient miss.
var ErrNoData = errors.New("provider: no data")

// Provider is an unreliable, rate-limited market-data source. Implementations
// make a single attempt per call; retrying is the caller's job.
type Provider interface {
	// Current returns the latest price.
	Current(ctx context.Context, ticker string) (decimal.Decimal, error)

	// History returns daily closes with dates in [start, end], trading days only.
	History(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error)

	// Intraday returns today's 5-minute samples.
	Intraday(ctx context.Context, ticker string) ([]model.IntradayPoint, error)

	// Info returns instrument metadata.
	Info(ctx context.Context, ticker string) (model.AssetInfo, error)
}
