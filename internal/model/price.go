package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is a daily close for one ticker, unique on (Ticker, Date).
type PriceObservation struct {
	Ticker string          `json:"ticker" db:"ticker"`
	Date   time.Time       `json:"date" db:"date"` // UTC midnight
	Close  decimal.Decimal `json:"close" db:"close_price"`
	Volume *int64          `json:"volume,omitempty" db:"volume"`
}

// IntradayPoint is a single intraday price sample.
type IntradayPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// LookupKind tags the outcome of a price lookup.
type LookupKind int

const (
	LookupMiss LookupKind = iota
	LookupHit
	LookupError
)

func (k LookupKind) String() string {
	switch k {
	case LookupHit:
		return "hit"
	case LookupError:
		return "error"
	default:
		return "miss"
	}
}

// Lookup is the result of resolving a single price. A Miss means the
// provider had no data after the retry budget; an Error means the lookup
// itself failed (panic, store failure) and the caller applied its fallback.
type Lookup struct {
	Kind  LookupKind
	Price decimal.Decimal
	Err   error
}

// Hit wraps a resolved price.
func Hit(p decimal.Decimal) Lookup { return Lookup{Kind: LookupHit, Price: p} }

// Miss is the explicit "no data" outcome.
func Miss() Lookup { return Lookup{Kind: LookupMiss} }

// Failed records a lookup error.
func Failed(err error) Lookup { return Lookup{Kind: LookupError, Err: err} }

// OK reports whether the lookup resolved a price.
func (l Lookup) OK() bool { return l.Kind == LookupHit }

// PricePtr returns the price for hits and nil otherwise.
func (l Lookup) PricePtr() *decimal.Decimal {
	if !l.OK() {
		return nil
	}
	p := l.Price
	return &p
}

// PriceEvent is pushed to subscribers whenever a fresh current price is fetched.
type PriceEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPriceUpdate is the PriceEvent type emitted by the fetcher.
const EventPriceUpdate = "price_update"
