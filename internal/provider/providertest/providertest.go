// Package providertest offers provider.Provider doubles for tests: a testify
// mock and a map-backed fake that counts calls.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/provider"
)

// Mock is a testify mock of provider.Provider.
type Mock struct {
	mock.Mock
}

func (m *Mock) Current(ctx context.Context, ticker string) (decimal.Decimal, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *Mock) History(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error) {
	args := m.Called(ctx, ticker, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PriceObservation), args.Error(1)
}

func (m *Mock) Intraday(ctx context.Context, ticker string) ([]model.IntradayPoint, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.IntradayPoint), args.Error(1)
}

func (m *Mock) Info(ctx context.Context, ticker string) (model.AssetInfo, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(model.AssetInfo), args.Error(1)
}

// Fake serves fixed data and counts calls per operation. Tickers without
// data answer provider.ErrNoData.
type Fake struct {
	mu       sync.Mutex
	current  map[string]decimal.Decimal
	closes   map[string]map[string]decimal.Decimal
	intraday map[string][]model.IntradayPoint
	names    map[string]model.AssetInfo
	calls    map[string]int
}

// NewFake creates an empty fake.
func NewFake() *Fake {
	return &Fake{
		current:  make(map[string]decimal.Decimal),
		closes:   make(map[string]map[string]decimal.Decimal),
		intraday: make(map[string][]model.IntradayPoint),
		names:    make(map[string]model.AssetInfo),
		calls:    make(map[string]int),
	}
}

// SetCurrent sets the current price of ticker.
func (f *Fake) SetCurrent(ticker string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[ticker] = price
}

// SetClose sets the daily close of ticker on the given YYYY-MM-DD day.
func (f *Fake) SetClose(ticker, day string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes[ticker] == nil {
		f.closes[ticker] = make(map[string]decimal.Decimal)
	}
	f.closes[ticker][day] = price
}

// SetIntraday sets today's samples for ticker.
func (f *Fake) SetIntraday(ticker string, points []model.IntradayPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intraday[ticker] = points
}

// SetInfo sets the metadata of ticker.
func (f *Fake) SetInfo(info model.AssetInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[info.Ticker] = info
}

// Calls returns how many times op ("current", "history", "intraday", "info")
// was invoked for ticker.
func (f *Fake) Calls(op, ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+"|"+ticker]
}

func (f *Fake) record(op, ticker string) {
	f.calls[op+"|"+ticker]++
}

func (f *Fake) Current(_ context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("current", ticker)
	p, ok := f.current[ticker]
	if !ok {
		return decimal.Zero, provider.ErrNoData
	}
	return p, nil
}

func (f *Fake) History(_ context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("history", ticker)
	var out []model.PriceObservation
	for _, d := range model.DaysBetween(start, end) {
		if p, ok := f.closes[ticker][model.DateKey(d)]; ok {
			out = append(out, model.PriceObservation{Ticker: ticker, Date: d, Close: p})
		}
	}
	if len(out) == 0 {
		return nil, provider.ErrNoData
	}
	return out, nil
}

func (f *Fake) Intraday(_ context.Context, ticker string) ([]model.IntradayPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("intraday", ticker)
	pts, ok := f.intraday[ticker]
	if !ok || len(pts) == 0 {
		return nil, provider.ErrNoData
	}
	return append([]model.IntradayPoint(nil), pts...), nil
}

func (f *Fake) Info(_ context.Context, ticker string) (model.AssetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("info", ticker)
	info, ok := f.names[ticker]
	if !ok {
		return model.AssetInfo{}, provider.ErrNoData
	}
	return info, nil
}
