package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuedHolding is a holding valued against current market data.
// Derived on every request and never persisted.
type ValuedHolding struct {
	Holding          Holding          `json:"holding"`
	Name             string           `json:"name"`
	CurrentPrice     *decimal.Decimal `json:"current_price"`
	PurchasePrice    *decimal.Decimal `json:"purchase_price"`
	PercentageChange decimal.Decimal  `json:"percentage_change"`
	CurrentValue     decimal.Decimal  `json:"current_value"`
	Stale            bool             `json:"stale"` // no-change fallback applied
}

// AllocationEntry is one ticker's share of the portfolio value.
type AllocationEntry struct {
	Ticker     string          `json:"ticker"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Summary aggregates valued holdings.
type Summary struct {
	TotalCurrentValue     decimal.Decimal   `json:"total_current_value"`
	TotalCostBasis        decimal.Decimal   `json:"total_cost_basis"`
	TotalPercentageChange decimal.Decimal   `json:"total_percentage_change"`
	Holdings              []ValuedHolding   `json:"holdings"`
	Allocation            []AllocationEntry `json:"allocation"`
}

// PortfolioSnapshot is one point of a portfolio value series. Date holds the
// day key for daily series; Timestamp is set for intraday series.
type PortfolioSnapshot struct {
	Date             string          `json:"date"`
	Timestamp        time.Time       `json:"timestamp"`
	TotalValue       decimal.Decimal `json:"total_value"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
}

// BenchmarkPoint is a benchmark percentage change aligned to a portfolio point.
type BenchmarkPoint struct {
	Date             string          `json:"date"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
}

// History is a portfolio series with its aligned benchmark series.
type History struct {
	History          []PortfolioSnapshot `json:"history"`
	BenchmarkHistory []BenchmarkPoint    `json:"benchmark_history"`
}
