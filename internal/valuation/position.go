package valuation

import "github.com/shopspring/decimal"

// Position is a quantity-based holding: units bought at an average cost.
type Position struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	Price    decimal.Decimal `json:"price"`
}

// Gain is the unrealised result of one position.
type Gain struct {
	Ticker         string          `json:"ticker,omitempty"`
	PositionValue  decimal.Decimal `json:"position_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealisedGain decimal.Decimal `json:"unrealised_gain"`
}

// PositionSummary totals a set of positions.
type PositionSummary struct {
	TotalValue          decimal.Decimal `json:"total_value"`
	TotalCostBasis      decimal.Decimal `json:"total_cost_basis"`
	TotalUnrealisedGain decimal.Decimal `json:"total_unrealised_gain"`
	Positions           []Gain          `json:"positions"`
}

// UnrealisedGain values quantity units at price against their average cost.
func UnrealisedGain(quantity, avgCost, price decimal.Decimal) Gain {
	value := quantity.Mul(price)
	cost := quantity.Mul(avgCost)
	return Gain{
		PositionValue:  value,
		CostBasis:      cost,
		UnrealisedGain: value.Sub(cost),
	}
}

// SummarizePositions totals the unrealised gains of positions.
func SummarizePositions(positions []Position) PositionSummary {
	s := PositionSummary{
		TotalValue:          decimal.Zero,
		TotalCostBasis:      decimal.Zero,
		TotalUnrealisedGain: decimal.Zero,
		Positions:           make([]Gain, 0, len(positions)),
	}
	for _, p := range positions {
		g := UnrealisedGain(p.Quantity, p.AvgCost, p.Price)
		g.Ticker = p.Ticker
		s.TotalValue = s.TotalValue.Add(g.PositionValue)
		s.TotalCostBasis = s.TotalCostBasis.Add(g.CostBasis)
		s.TotalUnrealisedGain = s.TotalUnrealisedGain.Add(g.UnrealisedGain)
		s.Positions = append(s.Positions, g)
	}
	return s
}
