package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio/market-engine/internal/benchmark"
	"github.com/folio/market-engine/internal/cache"
	"github.com/folio/market-engine/internal/fetcher"
	"github.com/folio/market-engine/internal/gapfill"
	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/orchestrator"
	"github.com/folio/market-engine/internal/portfolio"
	"github.com/folio/market-engine/internal/provider/providertest"
	"github.com/folio/market-engine/internal/retry"
	"github.com/folio/market-engine/internal/store"
	"github.com/folio/market-engine/internal/timeseries"
	"github.com/folio/market-engine/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Friday 2024-01-12, mid-session.
var now = time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *portfolio.Service
	provider *providertest.Fake
	store    *store.MemoryStore
	cache    *cache.Cache
	router   chi.Router
}

// newTestEnv wires a Service over a fake provider and in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return now }
	p := providertest.NewFake()
	ms := store.NewMemoryStore()
	c := cache.New(cache.WithClock(clock))
	policy := retry.New(1, 0)

	f := fetcher.New(p, c, fetcher.WithPolicy(policy), fetcher.WithClock(clock))
	recon := gapfill.New(ms, f, c, gapfill.WithClock(clock))
	svc := portfolio.NewService(portfolio.Deps{
		Fetcher:      f,
		History:      recon,
		Orchestrator: orchestrator.New(f, recon, orchestrator.WithWorkers(4)),
		Builder:      timeseries.NewBuilder(recon, f, 4, clock),
		Benchmark:    benchmark.New(p, benchmark.WithPolicy(policy)),
		Store:        ms,
		Cache:        c,
	})

	r := chi.NewRouter()
	r.Get("/api/v1/prices/{ticker}", svc.GetPrice)
	r.Get("/api/v1/prices/{ticker}/history", svc.GetPriceHistory)
	r.Delete("/api/v1/prices/{ticker}", svc.InvalidateTicker)
	r.Post("/api/v1/prices", svc.GetPrices)
	r.Get("/api/v1/tickers/{ticker}/validate", svc.ValidateSymbol)
	r.Get("/api/v1/tickers/{ticker}/name", svc.GetName)
	r.Post("/api/v1/portfolio/summary", svc.GetSummary)
	r.Post("/api/v1/portfolio/history", svc.GetHistory)
	r.Post("/api/v1/portfolio/intraday", svc.GetIntraday)
	r.Post("/api/v1/positions/summary", svc.GetPositionsSummary)

	return &testEnv{svc: svc, provider: p, store: ms, cache: c, router: r}
}

// seedMarket gives AAPL and MSFT a week of closes and a current price.
func seedMarket(env *testEnv) {
	closes := []string{"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12"}
	for i, day := range closes {
		env.provider.SetClose("AAPL", day, decimal.NewFromInt(int64(100+2*i)))
		env.provider.SetClose("MSFT", day, decimal.NewFromInt(200))
	}
	env.provider.SetCurrent("AAPL", d("110"))
	env.provider.SetCurrent("MSFT", d("180"))
	env.provider.SetInfo(model.AssetInfo{Ticker: "AAPL", LongName: "Apple Inc."})
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// --- Price endpoints ---

func TestGetPrice(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	w := env.do(t, "GET", "/api/v1/prices/aapl", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[portfolio.PriceResponse](t, w)
	assert.Equal(t, "AAPL", resp.Ticker)
	assert.True(t, resp.Price.Equal(d("110")))
}

func TestGetPrice_NoDataIs404(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/prices/NOPE", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPrice_MalformedTickerIs400(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/prices/AAPL;DROP", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.provider.Calls("current", "AAPL;DROP"), "malformed tickers never reach the provider")
}

func TestGetPrices_SkipsMissingAndMalformed(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	w := env.do(t, "POST", "/api/v1/prices", portfolio.PricesRequest{
		Tickers: []string{"AAPL", "msft", "GONE", "bad ticker", "AAPL"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	prices := decode[map[string]decimal.Decimal](t, w)
	assert.Len(t, prices, 2)
	assert.True(t, prices["MSFT"].Equal(d("180")))
	assert.Equal(t, 1, env.provider.Calls("current", "AAPL"))
}

func TestGetPriceHistory_PersistsFetchedCloses(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	w := env.do(t, "GET", "/api/v1/prices/AAPL/history?start=2024-01-08&end=2024-01-10", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	series := decode[map[string]decimal.Decimal](t, w)
	assert.Len(t, series, 3)
	assert.True(t, series["2024-01-10"].Equal(d("104")))

	rows, err := env.store.GetRange(context.Background(), "AAPL", now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestGetPriceHistory_BadDateIs400(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/prices/AAPL/history?start=yesterday", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateTicker_DropsStoreAndCache(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	ctx := context.Background()

	_, err := env.svc.GetHistoricalSeries(ctx, "AAPL", now.AddDate(0, 0, -4), now)
	require.NoError(t, err)
	env.svc.GetCurrentPrice(ctx, "AAPL")
	require.Equal(t, 1, env.provider.Calls("history", "AAPL"))

	w := env.do(t, "DELETE", "/api/v1/prices/AAPL", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(4), decode[map[string]int64](t, w)["deleted"], "today's close is not stored until the session settles")

	_, err = env.svc.GetHistoricalSeries(ctx, "AAPL", now.AddDate(0, 0, -4), now)
	require.NoError(t, err)
	env.svc.GetCurrentPrice(ctx, "AAPL")
	assert.Equal(t, 2, env.provider.Calls("history", "AAPL"), "series refetched after invalidation")
	assert.Equal(t, 2, env.provider.Calls("current", "AAPL"), "current price refetched after invalidation")
}

// --- Ticker endpoints ---

func TestValidateSymbol(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	tests := []struct {
		ticker string
		valid  bool
	}{
		{"AAPL", true},
		{"ZZZZ", false},
		{"-USD", false},
	}
	for _, tt := range tests {
		w := env.do(t, "GET", "/api/v1/tickers/"+tt.ticker+"/validate", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[map[string]any](t, w)
		assert.Equal(t, tt.valid, resp["valid"], tt.ticker)
	}
}

func TestGetName(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	named := decode[map[string]string](t, env.do(t, "GET", "/api/v1/tickers/aapl/name", nil))
	unnamed := decode[map[string]string](t, env.do(t, "GET", "/api/v1/tickers/MSFT/name", nil))

	assert.Equal(t, "Apple Inc.", named["name"])
	assert.Equal(t, "MSFT", unnamed["name"])
}

// --- Portfolio endpoints ---

func TestGetSummary(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	w := env.do(t, "POST", "/api/v1/portfolio/summary", portfolio.PortfolioRequest{
		Holdings: []portfolio.HoldingRequest{
			{ID: "h1", Ticker: "AAPL", CostBasis: d("1000"), PurchaseDate: "2024-01-08"},
			{ID: "h2", Ticker: "MSFT", CostBasis: d("500"), PurchaseDate: "2024-01-08", TradeType: "sell"},
			{ID: "h3", Ticker: "GONE", CostBasis: d("250"), PurchaseDate: "2024-01-08"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decode[model.Summary](t, w)
	require.Len(t, s.Holdings, 3)

	aapl, msft, gone := s.Holdings[0], s.Holdings[1], s.Holdings[2]
	assert.Equal(t, "Apple Inc.", aapl.Name)
	assert.True(t, aapl.CurrentValue.Equal(d("1100")), aapl.CurrentValue.String())
	assert.True(t, aapl.PercentageChange.Equal(d("10")))
	assert.Equal(t, model.Stock, aapl.Holding.AssetType, "asset type inferred from ticker")

	assert.True(t, msft.PercentageChange.Equal(d("10")), "falling price is a gain for a sell")
	assert.True(t, msft.CurrentValue.Equal(d("550")))

	assert.True(t, gone.Stale)
	assert.True(t, gone.CurrentValue.Equal(d("250")))
	assert.Equal(t, "GONE", gone.Name)

	assert.True(t, s.TotalCurrentValue.Equal(d("1900")))
	assert.True(t, s.TotalCostBasis.Equal(d("1750")))
	assert.True(t, s.TotalPercentageChange.Equal(d("8.57")), s.TotalPercentageChange.String())

	require.Len(t, s.Allocation, 3)
	assert.Equal(t, "AAPL", s.Allocation[0].Ticker)
	assert.True(t, s.Allocation[0].Percentage.Equal(d("57.89")))
	assert.True(t, s.Allocation[2].Percentage.Equal(d("13.16")))
}

func TestGetSummary_InvalidHoldings(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]portfolio.HoldingRequest{
		"negative cost": {Ticker: "AAPL", CostBasis: d("-1"), PurchaseDate: "2024-01-08"},
		"bad date":      {Ticker: "AAPL", CostBasis: d("1"), PurchaseDate: "08/01/2024"},
		"bad ticker":    {Ticker: "AA PL", CostBasis: d("1"), PurchaseDate: "2024-01-08"},
		"bad trade":     {Ticker: "AAPL", CostBasis: d("1"), PurchaseDate: "2024-01-08", TradeType: "hold"},
		"bad asset":     {Ticker: "AAPL", CostBasis: d("1"), PurchaseDate: "2024-01-08", AssetType: "nft"},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/portfolio/summary", portfolio.PortfolioRequest{
				Holdings: []portfolio.HoldingRequest{h},
			})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetSummary_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/portfolio/summary", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestComputePortfolioSummary_Empty(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.svc.ComputePortfolioSummary(context.Background(), nil)

	require.NoError(t, err)
	assert.True(t, s.TotalCurrentValue.IsZero())
	assert.NotNil(t, s.Allocation)
}

func TestGetHistory_WithBenchmark(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	env.provider.SetClose(benchmark.DefaultSymbol, "2024-01-08", d("4000"))
	env.provider.SetClose(benchmark.DefaultSymbol, "2024-01-09", d("4040"))
	env.provider.SetClose(benchmark.DefaultSymbol, "2024-01-11", d("3980"))

	w := env.do(t, "POST", "/api/v1/portfolio/history", portfolio.PortfolioRequest{
		Holdings: []portfolio.HoldingRequest{
			{ID: "h1", Ticker: "AAPL", CostBasis: d("1000"), PurchaseDate: "2024-01-08"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h := decode[model.History](t, w)
	require.Len(t, h.History, 5)
	assert.Equal(t, "2024-01-08", h.History[0].Date)
	assert.True(t, h.History[4].TotalValue.Equal(d("1080")))
	assert.True(t, h.History[4].PercentageChange.Equal(d("8")))

	require.Len(t, h.BenchmarkHistory, 3, "only dates with an index close")
	assert.Equal(t, "2024-01-09", h.BenchmarkHistory[1].Date)
	assert.True(t, h.BenchmarkHistory[1].PercentageChange.Equal(d("1")))
	assert.True(t, h.BenchmarkHistory[2].PercentageChange.Equal(d("-0.5")))
}

func TestGetIntraday(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	open := time.Date(2024, 1, 12, 14, 30, 0, 0, time.UTC)
	env.provider.SetIntraday("AAPL", []model.IntradayPoint{
		{Timestamp: open, Price: d("110")},
		{Timestamp: open.Add(5 * time.Minute), Price: d("121")},
	})

	w := env.do(t, "POST", "/api/v1/portfolio/intraday", portfolio.PortfolioRequest{
		Holdings: []portfolio.HoldingRequest{
			{ID: "h1", Ticker: "AAPL", CostBasis: d("1000"), PurchaseDate: "2024-01-08"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"benchmark_history":[]`)
	h := decode[model.History](t, w)
	require.Len(t, h.History, 2)
	assert.True(t, h.History[0].TotalValue.Equal(d("1100")))
	assert.True(t, h.History[1].TotalValue.Equal(d("1210")))
	assert.True(t, h.History[1].PercentageChange.Equal(d("10")))
}

// --- Positions ---

func TestGetPositionsSummary(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	w := env.do(t, "POST", "/api/v1/positions/summary", portfolio.PositionsRequest{
		Positions: []portfolio.PositionRequest{
			{Ticker: "ABC", Quantity: d("10"), AvgCost: d("5"), Price: d("6")},
			{Ticker: "aapl", Quantity: d("2"), AvgCost: d("100")},
			{Ticker: "GONE", Quantity: d("3"), AvgCost: d("10")},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decode[valuation.PositionSummary](t, w)
	require.Len(t, s.Positions, 3)
	assert.True(t, s.Positions[0].UnrealisedGain.Equal(d("10")))
	assert.True(t, s.Positions[1].PositionValue.Equal(d("220")), "priced at the current market price")
	assert.True(t, s.Positions[2].UnrealisedGain.IsZero(), "unpriced positions are held at cost")
	assert.True(t, s.TotalUnrealisedGain.Equal(d("30")))
}

func TestGetPositionsSummary_NegativeQuantity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions/summary", portfolio.PositionsRequest{
		Positions: []portfolio.PositionRequest{{Ticker: "ABC", Quantity: d("-1"), AvgCost: d("5"), Price: d("6")}},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
