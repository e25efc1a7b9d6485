// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeCostBasis is returned when a holding carries a cost basis below zero.
	ErrNegativeCostBasis = errors.New("model: cost basis must not be negative")

	// ErrUnknownTradeType is returned for trade types other than buy or sell.
	ErrUnknownTradeType = errors.New("model: unknown trade type")

	// ErrUnknownAssetType is returned for unsupported asset classes.
	ErrUnknownAssetType = errors.New("model: unknown asset type")
)

// TradeType controls the sign of a holding's performance.
type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell" // short position: gains when the price falls
)

// ParseTradeType parses a case-insensitive trade type. Empty input means buy.
func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Buy):
		return Buy, nil
	case string(Sell):
		return Sell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTradeType, s)
}

// AssetType is the asset class of a holding.
type AssetType string

const (
	Stock       AssetType = "stock"
	Crypto      AssetType = "crypto"
	ETF         AssetType = "etf"
	Commodities AssetType = "commodities"
	Bonds       AssetType = "bonds"
)

var validAssetTypes = map[AssetType]bool{
	Stock:       true,
	Crypto:      true,
	ETF:         true,
	Commodities: true,
	Bonds:       true,
}

// ParseAssetType parses a case-insensitive asset type.
func ParseAssetType(s string) (AssetType, error) {
	at := AssetType(strings.ToLower(strings.TrimSpace(s)))
	if !validAssetTypes[at] {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, s)
	}
	return at, nil
}

// Holding is a single position owned by an external portfolio.
// CostBasis is the total amount committed, not a per-unit price.
type Holding struct {
	ID           string          `json:"id"`
	Ticker       string          `json:"ticker"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	PurchaseDate time.Time       `json:"purchase_date"`
	AssetType    AssetType       `json:"asset_type"`
	TradeType    TradeType       `json:"trade_type"`
}

// Validate checks the holding invariants.
func (h Holding) Validate() error {
	if h.CostBasis.IsNegative() {
		return fmt.Errorf("%w: holding %s has %s", ErrNegativeCostBasis, h.ID, h.CostBasis)
	}
	if h.TradeType != Buy && h.TradeType != Sell {
		return fmt.Errorf("%w: %q", ErrUnknownTradeType, h.TradeType)
	}
	return nil
}

// AssetInfo is descriptive metadata for an instrument.
type AssetInfo struct {
	Ticker    string `json:"ticker"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	QuoteType string `json:"quote_type"`
}

// DisplayName returns the best available name, falling back to the ticker.
func (a AssetInfo) DisplayName() string {
	if a.LongName != "" {
		return a.LongName
	}
	if a.ShortName != "" {
		return a.ShortName
	}
	return a.Ticker
}
