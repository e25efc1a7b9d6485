package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/model"
	"github.com/folio/market-engine/internal/symbol"
	"github.com/folio/market-engine/internal/valuation"
)

// --- Request/Response types ---

// HoldingRequest is one holding in a portfolio request body.
type HoldingRequest struct {
	ID           string          `json:"id"`
	Ticker       string          `json:"ticker"`
	CostBasis    decimal.Decimal `json:"cost_basis"`    // total invested, not per unit
	PurchaseDate string          `json:"purchase_date"` // YYYY-MM-DD
	AssetType    string          `json:"asset_type"`    // optional; inferred from the ticker
	TradeType    string          `json:"trade_type"`    // "buy" (default) or "sell"
}

// PortfolioRequest is the JSON body of the portfolio endpoints.
type PortfolioRequest struct {
	Holdings []HoldingRequest `json:"holdings"`
}

// PricesRequest is the JSON body for POST /prices.
type PricesRequest struct {
	Tickers []string `json:"tickers"`
}

// PriceResponse is the JSON body returned for a single current price.
type PriceResponse struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// PositionRequest is one quantity-based position. A zero price is replaced
// with the current market price.
type PositionRequest struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	Price    decimal.Decimal `json:"price"`
}

// PositionsRequest is the JSON body for POST /positions/summary.
type PositionsRequest struct {
	Positions []PositionRequest `json:"positions"`
}

// toHoldings converts request holdings to domain holdings. Missing IDs are
// generated.
func toHoldings(reqs []HoldingRequest) ([]model.Holding, error) {
	out := make([]model.Holding, 0, len(reqs))
	for _, req := range reqs {
		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		date, err := model.ParseDateKey(req.PurchaseDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHolding, err)
		}
		tt, err := model.ParseTradeType(req.TradeType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHolding, err)
		}
		var at model.AssetType
		if req.AssetType != "" {
			if at, err = model.ParseAssetType(req.AssetType); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidHolding, err)
			}
		}
		out = append(out, model.Holding{
			ID:           id,
			Ticker:       req.Ticker,
			CostBasis:    req.CostBasis,
			PurchaseDate: date,
			AssetType:    at,
			TradeType:    tt,
		})
	}
	return out, nil
}

// --- HTTP Handlers ---

// GetPrice handles GET /api/v1/prices/{ticker}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	sym, err := symbol.Parse(ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price := s.GetCurrentPrice(r.Context(), sym.Ticker)
	if price == nil {
		writeError(w, "no price available", http.StatusNotFound)
		return
	}
	writeJSON(w, PriceResponse{Ticker: sym.Ticker, Price: *price})
}

// GetPriceHistory handles GET /api/v1/prices/{ticker}/history?start=&end=
// end defaults to today and start to 30 days before end.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	end := model.Day(s.fetcher.Now())
	if v := r.URL.Query().Get("end"); v != "" {
		d, err := model.ParseDateKey(v)
		if err != nil {
			writeError(w, "invalid end date", http.StatusBadRequest)
			return
		}
		end = d
	}
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start"); v != "" {
		d, err := model.ParseDateKey(v)
		if err != nil {
			writeError(w, "invalid start date", http.StatusBadRequest)
			return
		}
		start = d
	}

	series, err := s.GetHistoricalSeries(r.Context(), ticker, start, end)
	if err != nil {
		if errors.Is(err, symbol.ErrInvalidSymbol) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, series)
}

// GetPrices handles POST /api/v1/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.GetMultiplePrices(r.Context(), req.Tickers))
}

// InvalidateTicker handles DELETE /api/v1/prices/{ticker}?date=
func (s *Service) InvalidateTicker(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	var day *time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := model.ParseDateKey(v)
		if err != nil {
			writeError(w, "invalid date", http.StatusBadRequest)
			return
		}
		day = &d
	}

	n, err := s.InvalidatePrices(r.Context(), ticker, day)
	if err != nil {
		if errors.Is(err, symbol.ErrInvalidSymbol) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to invalidate prices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"deleted": n})
}

// ValidateSymbol handles GET /api/v1/tickers/{ticker}/validate
func (s *Service) ValidateSymbol(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	writeJSON(w, map[string]any{
		"ticker": symbol.Normalize(ticker),
		"valid":  s.ValidateTicker(r.Context(), ticker),
	})
}

// GetName handles GET /api/v1/tickers/{ticker}/name
func (s *Service) GetName(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	writeJSON(w, map[string]string{
		"ticker": symbol.Normalize(ticker),
		"name":   s.GetAssetName(r.Context(), ticker),
	})
}

// GetSummary handles POST /api/v1/portfolio/summary
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	holdings, ok := decodeHoldings(w, r)
	if !ok {
		return
	}
	summary, err := s.ComputePortfolioSummary(r.Context(), holdings)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("portfolio summarized",
		"holdings", len(summary.Holdings),
		"total_value", summary.TotalCurrentValue.StringFixed(2),
	)
	writeJSON(w, summary)
}

// GetHistory handles POST /api/v1/portfolio/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	holdings, ok := decodeHoldings(w, r)
	if !ok {
		return
	}
	history, err := s.GetPortfolioHistory(r.Context(), holdings)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, history)
}

// GetIntraday handles POST /api/v1/portfolio/intraday
func (s *Service) GetIntraday(w http.ResponseWriter, r *http.Request) {
	holdings, ok := decodeHoldings(w, r)
	if !ok {
		return
	}
	history, err := s.GetPortfolioIntradayHistory(r.Context(), holdings)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, history)
}

// GetPositionsSummary handles POST /api/v1/positions/summary
// Positions without a price are valued at the current market price, or at
// their average cost when none is available.
func (s *Service) GetPositionsSummary(w http.ResponseWriter, r *http.Request) {
	var req PositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var need []string
	for i, p := range req.Positions {
		sym, err := symbol.Parse(p.Ticker)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if p.Quantity.IsNegative() || p.AvgCost.IsNegative() {
			writeError(w, "quantity and avg_cost must not be negative", http.StatusBadRequest)
			return
		}
		req.Positions[i].Ticker = sym.Ticker
		if p.Price.IsZero() {
			need = append(need, sym.Ticker)
		}
	}

	current := s.GetMultiplePrices(r.Context(), need)
	positions := make([]valuation.Position, 0, len(req.Positions))
	for _, p := range req.Positions {
		price := p.Price
		if price.IsZero() {
			price = p.AvgCost
			if c, ok := current[p.Ticker]; ok {
				price = c
			}
		}
		positions = append(positions, valuation.Position{
			Ticker:   p.Ticker,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
			Price:    price,
		})
	}
	writeJSON(w, valuation.SummarizePositions(positions))
}

func decodeHoldings(w http.ResponseWriter, r *http.Request) ([]model.Holding, bool) {
	var req PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	holdings, err := toHoldings(req.Holdings)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return holdings, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
