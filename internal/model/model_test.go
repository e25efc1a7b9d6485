package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseTradeType(t *testing.T) {
	cases := map[string]TradeType{"": Buy, "BUY": Buy, " sell ": Sell}
	for in, want := range cases {
		got, err := ParseTradeType(in)
		if err != nil {
			t.Fatalf("ParseTradeType(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseTradeType(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseTradeType("short"); !errors.Is(err, ErrUnknownTradeType) {
		t.Errorf("expected ErrUnknownTradeType, got %v", err)
	}
}

func TestParseAssetType(t *testing.T) {
	if at, err := ParseAssetType("ETF"); err != nil || at != ETF {
		t.Errorf("ParseAssetType(ETF) = %s, %v", at, err)
	}
	if _, err := ParseAssetType("nft"); !errors.Is(err, ErrUnknownAssetType) {
		t.Errorf("expected ErrUnknownAssetType, got %v", err)
	}
}

func TestHoldingValidate(t *testing.T) {
	h := Holding{ID: "h1", Ticker: "AAPL", CostBasis: decimal.NewFromInt(100), TradeType: Buy}
	if err := h.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.CostBasis = decimal.NewFromInt(-1)
	if err := h.Validate(); !errors.Is(err, ErrNegativeCostBasis) {
		t.Errorf("expected ErrNegativeCostBasis, got %v", err)
	}

	h.CostBasis = decimal.Zero
	h.TradeType = "hold"
	if err := h.Validate(); !errors.Is(err, ErrUnknownTradeType) {
		t.Errorf("expected ErrUnknownTradeType, got %v", err)
	}
}

func TestAssetInfoDisplayName(t *testing.T) {
	if got := (AssetInfo{Ticker: "X", ShortName: "Short"}).DisplayName(); got != "Short" {
		t.Errorf("got %q", got)
	}
	if got := (AssetInfo{Ticker: "X"}).DisplayName(); got != "X" {
		t.Errorf("got %q", got)
	}
}

func TestLookup(t *testing.T) {
	hit := Hit(decimal.NewFromInt(5))
	if !hit.OK() || hit.PricePtr() == nil || !hit.PricePtr().Equal(decimal.NewFromInt(5)) {
		t.Errorf("hit lookup not resolved: %+v", hit)
	}
	if Miss().OK() || Miss().PricePtr() != nil {
		t.Error("miss should not resolve")
	}
	failed := Failed(errors.New("boom"))
	if failed.OK() || failed.Kind.String() != "error" {
		t.Errorf("unexpected failed lookup: %+v", failed)
	}
}

func TestDaysBetween(t *testing.T) {
	start := time.Date(2024, 1, 30, 15, 4, 0, 0, time.UTC)
	end := time.Date(2024, 2, 2, 1, 0, 0, 0, time.UTC)

	days := DaysBetween(start, end)
	if len(days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(days))
	}
	if DateKey(days[0]) != "2024-01-30" || DateKey(days[3]) != "2024-02-02" {
		t.Errorf("unexpected range %s..%s", DateKey(days[0]), DateKey(days[3]))
	}
	if DaysBetween(end, start) != nil {
		t.Error("reversed range should be empty")
	}
}

func TestParseDateKeyRoundTrip(t *testing.T) {
	d, err := ParseDateKey("2024-03-09")
	if err != nil {
		t.Fatal(err)
	}
	if !IsWeekend(d) {
		t.Error("2024-03-09 is a Saturday")
	}
	if DateKey(d) != "2024-03-09" {
		t.Errorf("got %s", DateKey(d))
	}
}
