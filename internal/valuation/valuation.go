// Package valuation turns resolved prices into position values, percentage
// changes and portfolio summaries. Everything here is pure.
//
// Cost basis is the total amount invested in a holding. Performance is the
// ratio of current to purchase-date price, applied to that amount.
package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// PercentageChange is (current - purchase) / purchase * 100, negated for
// sell positions. A zero purchase price yields zero.
func PercentageChange(purchase, current decimal.Decimal, tt model.TradeType) decimal.Decimal {
	if purchase.IsZero() {
		return decimal.Zero
	}
	pct := current.Sub(purchase).Div(purchase).Mul(hundred)
	if tt == model.Sell {
		pct = pct.Neg()
	}
	return pct
}

// Value values a holding. When either price is missing, or the purchase
// price is zero, the holding is reported unchanged at its cost basis and
// marked stale.
func Value(h model.Holding, current, purchase *decimal.Decimal) model.ValuedHolding {
	v := model.ValuedHolding{
		Holding:          h,
		Name:             h.Ticker,
		CurrentPrice:     current,
		PurchasePrice:    purchase,
		PercentageChange: decimal.Zero,
		CurrentValue:     h.CostBasis,
	}
	if current == nil || purchase == nil || purchase.IsZero() {
		v.Stale = true
		return v
	}
	v.PercentageChange = PercentageChange(*purchase, *current, h.TradeType)
	v.CurrentValue = ScaleByPercent(h.CostBasis, v.PercentageChange)
	return v
}

// ScaleByPercent returns amount * (1 + pct/100).
func ScaleByPercent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// Summarize aggregates valued holdings into totals and an allocation
// breakdown by ticker, largest first. Tickers of equal value keep their
// first-seen order.
func Summarize(holdings []model.ValuedHolding) model.Summary {
	s := model.Summary{
		TotalCurrentValue:     decimal.Zero,
		TotalCostBasis:        decimal.Zero,
		TotalPercentageChange: decimal.Zero,
		Holdings:              holdings,
		Allocation:            []model.AllocationEntry{},
	}

	index := make(map[string]int)
	for _, v := range holdings {
		s.TotalCurrentValue = s.TotalCurrentValue.Add(v.CurrentValue)
		s.TotalCostBasis = s.TotalCostBasis.Add(v.Holding.CostBasis)

		t := v.Holding.Ticker
		if i, ok := index[t]; ok {
			s.Allocation[i].Value = s.Allocation[i].Value.Add(v.CurrentValue)
			continue
		}
		index[t] = len(s.Allocation)
		s.Allocation = append(s.Allocation, model.AllocationEntry{Ticker: t, Value: v.CurrentValue})
	}

	if !s.TotalCostBasis.IsZero() {
		s.TotalPercentageChange = s.TotalCurrentValue.Sub(s.TotalCostBasis).Div(s.TotalCostBasis).Mul(hundred)
	}

	sort.SliceStable(s.Allocation, func(i, j int) bool {
		return s.Allocation[i].Value.GreaterThan(s.Allocation[j].Value)
	})
	for i := range s.Allocation {
		s.Allocation[i].Percentage = decimal.Zero
		if !s.TotalCurrentValue.IsZero() {
			s.Allocation[i].Percentage = s.Allocation[i].Value.Div(s.TotalCurrentValue).Mul(hundred)
		}
	}
	return s
}

// RoundPercent rounds a percentage to two decimal places for presentation.
func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
