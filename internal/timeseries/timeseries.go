// Package timeseries reconstructs daily and intraday portfolio value series.
//
// A buy holding's value at t is cost_basis * price_t / base_price, where the
// base is the first available close on or after its purchase date. Sell
// holdings move the other way: cost_basis * (2 - price_t / base_price).
// Missing points carry the holding's last value forward.
package timeseries

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/model"
)

// Bucket is the intraday sampling interval.
const Bucket = 5 * time.Minute

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Daily builds one snapshot per calendar day from the earliest purchase date
// to now. prices maps ticker to closes keyed by YYYY-MM-DD. A day is emitted
// only when at least one holding contributed a value. Its percentage change
// is measured against the cost basis of the holdings contributing that day,
// not against the total cost basis of the portfolio at its first date, so a
// later purchase does not read as a gain.
func Daily(holdings []model.Holding, prices map[string]map[string]decimal.Decimal, now time.Time) []model.PortfolioSnapshot {
	out := []model.PortfolioSnapshot{}
	if len(holdings) == 0 {
		return out
	}

	start := model.Day(holdings[0].PurchaseDate)
	for _, h := range holdings[1:] {
		if d := model.Day(h.PurchaseDate); d.Before(start) {
			start = d
		}
	}
	end := model.Day(now)

	bases := make([]*decimal.Decimal, len(holdings))
	for i, h := range holdings {
		bases[i] = firstOnOrAfter(prices[h.Ticker], model.Day(h.PurchaseDate), end)
	}

	last := make([]*decimal.Decimal, len(holdings))
	for _, day := range model.DaysBetween(start, end) {
		key := model.DateKey(day)
		total, cost := decimal.Zero, decimal.Zero
		contributed := false

		for i, h := range holdings {
			if bases[i] == nil || model.Day(h.PurchaseDate).After(day) {
				continue
			}
			if p, ok := prices[h.Ticker][key]; ok {
				v := holdingValue(h, p, *bases[i])
				last[i] = &v
			}
			if last[i] == nil {
				continue
			}
			total = total.Add(*last[i])
			cost = cost.Add(h.CostBasis)
			contributed = true
		}

		if !contributed {
			continue
		}
		out = append(out, model.PortfolioSnapshot{
			Date:             key,
			Timestamp:        day,
			TotalValue:       total,
			PercentageChange: percentOf(total, cost),
		})
	}
	return out
}

// Intraday builds 5-minute snapshots for the most recent session found in
// points (ticker to samples). base maps BaseKey(ticker, purchase date) to
// the purchase-date price. Percentage change is relative to the sum of each
// contributing holding's first value of the session, so a holding whose
// market opens later does not read as a gain.
func Intraday(holdings []model.Holding, points map[string][]model.IntradayPoint, base map[string]decimal.Decimal) []model.PortfolioSnapshot {
	out := []model.PortfolioSnapshot{}

	byBucket := make(map[string]map[time.Time]decimal.Decimal, len(points))
	var session time.Time
	for ticker, pts := range points {
		m := make(map[time.Time]decimal.Decimal, len(pts))
		for _, p := range pts {
			ts := p.Timestamp.UTC().Truncate(Bucket)
			m[ts] = p.Price
			if d := model.Day(ts); d.After(session) {
				session = d
			}
		}
		byBucket[ticker] = m
	}
	if session.IsZero() {
		return out
	}

	seen := make(map[time.Time]bool)
	var stamps []time.Time
	for _, m := range byBucket {
		for ts := range m {
			if model.Day(ts).Equal(session) && !seen[ts] {
				seen[ts] = true
				stamps = append(stamps, ts)
			}
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	last := make([]*decimal.Decimal, len(holdings))
	first := make([]*decimal.Decimal, len(holdings))
	for _, ts := range stamps {
		total, opening := decimal.Zero, decimal.Zero
		contributed := false
		for i, h := range holdings {
			b, ok := base[BaseKey(h.Ticker, h.PurchaseDate)]
			if !ok || b.IsZero() {
				continue
			}
			if p, ok := byBucket[h.Ticker][ts]; ok {
				v := holdingValue(h, p, b)
				last[i] = &v
				if first[i] == nil {
					first[i] = &v
				}
			}
			if last[i] == nil {
				continue
			}
			total = total.Add(*last[i])
			opening = opening.Add(*first[i])
			contributed = true
		}
		if !contributed {
			continue
		}
		out = append(out, model.PortfolioSnapshot{
			Date:             model.DateKey(ts),
			Timestamp:        ts,
			TotalValue:       total,
			PercentageChange: percentOf(total, opening),
		})
	}
	return out
}

// holdingValue is h's value at price against base. Sells gain as the price
// falls.
func holdingValue(h model.Holding, price, base decimal.Decimal) decimal.Decimal {
	ratio := price.Div(base)
	if h.TradeType == model.Sell {
		ratio = two.Sub(ratio)
	}
	return h.CostBasis.Mul(ratio)
}

// BaseKey identifies a holding's purchase-date price.
func BaseKey(ticker string, purchase time.Time) string {
	return ticker + "|" + model.DateKey(model.Day(purchase))
}

// firstOnOrAfter returns the first close in series on or after from, not
// later than end.
func firstOnOrAfter(series map[string]decimal.Decimal, from, end time.Time) *decimal.Decimal {
	if len(series) == 0 {
		return nil
	}
	for d := from; !d.After(end); d = d.AddDate(0, 0, 1) {
		if p, ok := series[model.DateKey(d)]; ok && !p.IsZero() {
			return &p
		}
	}
	return nil
}

func percentOf(value, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return value.Sub(base).Div(base).Mul(hundred)
}
