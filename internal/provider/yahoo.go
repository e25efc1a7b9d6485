package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/folio/market-engine/internal/metrics"
	"github.com/folio/market-engine/internal/model"
)

// Yahoo fetches market data from Yahoo Finance via go-yfinance.
type Yahoo struct {
	now func() time.Time
}

// NewYahoo creates a Yahoo Finance provider.
func NewYahoo() *Yahoo {
	return &Yahoo{now: time.Now}
}

func (y *Yahoo) Current(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return decimal.Zero, y.fail("current", fmt.Errorf("create ticker %s: %w", symbol, err))
	}
	defer t.Close()

	// Quote is cheaper; info carries a current or previous close as fallback.
	if quote, err := t.Quote(); err == nil && quote != nil && quote.RegularMarketPrice > 0 {
		metrics.ProviderRequests.WithLabelValues("current", "ok").Inc()
		return decimal.NewFromFloat(quote.RegularMarketPrice), nil
	}
	info, err := t.Info()
	if err == nil && info != nil {
		if info.CurrentPrice > 0 {
			metrics.ProviderRequests.WithLabelValues("current", "ok").Inc()
			return decimal.NewFromFloat(info.CurrentPrice), nil
		}
		if info.RegularMarketPreviousClose > 0 {
			metrics.ProviderRequests.WithLabelValues("current", "ok").Inc()
			return decimal.NewFromFloat(info.RegularMarketPreviousClose), nil
		}
	}
	metrics.ProviderRequests.WithLabelValues("current", "empty").Inc()
	return decimal.Zero, ErrNoData
}

func (y *Yahoo) History(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, y.fail("history", fmt.Errorf("create ticker %s: %w", symbol, err))
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     periodFor(start, y.now()),
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, y.fail("history", fmt.Errorf("history %s: %w", symbol, err))
	}

	obs := observationsFromBars(symbol, bars, start, end)
	if len(obs) == 0 {
		metrics.ProviderRequests.WithLabelValues("history", "empty").Inc()
		return nil, ErrNoData
	}
	metrics.ProviderRequests.WithLabelValues("history", "ok").Inc()
	return obs, nil
}

func (y *Yahoo) Intraday(ctx context.Context, symbol string) ([]model.IntradayPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, y.fail("intraday", fmt.Errorf("create ticker %s: %w", symbol, err))
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:   "1d",
		Interval: "5m",
	})
	if err != nil {
		return nil, y.fail("intraday", fmt.Errorf("intraday %s: %w", symbol, err))
	}

	points := pointsFromBars(bars)
	if len(points) == 0 {
		metrics.ProviderRequests.WithLabelValues("intraday", "empty").Inc()
		return nil, ErrNoData
	}
	metrics.ProviderRequests.WithLabelValues("intraday", "ok").Inc()
	return points, nil
}

func (y *Yahoo) Info(ctx context.Context, symbol string) (model.AssetInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.AssetInfo{}, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return model.AssetInfo{}, y.fail("info", fmt.Errorf("create ticker %s: %w", symbol, err))
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return model.AssetInfo{}, y.fail("info", fmt.Errorf("info %s: %w", symbol, err))
	}
	metrics.ProviderRequests.WithLabelValues("info", "ok").Inc()
	return model.AssetInfo{
		Ticker:    symbol,
		LongName:  info.LongName,
		ShortName: info.ShortName,
		QuoteType: info.QuoteType,
	}, nil
}

func (y *Yahoo) fail(op string, err error) error {
	metrics.ProviderRequests.WithLabelValues(op, "error").Inc()
	return err
}

// periodFor picks the smallest Yahoo period that reaches back to start.
func periodFor(start, now time.Time) string {
	days := now.Sub(model.Day(start)).Hours() / 24
	switch {
	case days <= 5:
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 2*365:
		return "2y"
	case days <= 5*365:
		return "5y"
	case days <= 10*365:
		return "10y"
	}
	return "max"
}

// observationsFromBars converts daily bars, keeping dates in [start, end].
func observationsFromBars(symbol string, bars []models.Bar, start, end time.Time) []model.PriceObservation {
	start, end = model.Day(start), model.Day(end)
	obs := make([]model.PriceObservation, 0, len(bars))
	for _, bar := range bars {
		d := model.Day(bar.Date)
		if d.Before(start) || d.After(end) || bar.Close <= 0 {
			continue
		}
		vol := int64(bar.Volume)
		obs = append(obs, model.PriceObservation{
			Ticker: symbol,
			Date:   d,
			Close:  decimal.NewFromFloat(bar.Close),
			Volume: &vol,
		})
	}
	return obs
}

func pointsFromBars(bars []models.Bar) []model.IntradayPoint {
	points := make([]model.IntradayPoint, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			continue
		}
		points = append(points, model.IntradayPoint{
			Timestamp: bar.Date.UTC(),
			Price:     decimal.NewFromFloat(bar.Close),
		})
	}
	return points
}
