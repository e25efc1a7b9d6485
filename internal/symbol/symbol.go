// Package symbol handles market ticker normalisation and parsing.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/folio/market-engine/internal/model"
)

// Instrument kinds recognised from the ticker shape.
const (
	KindEquity   = "EQUITY"
	KindIndex    = "INDEX"
	KindCrypto   = "CRYPTO"
	KindCurrency = "CURRENCY"
	KindFuture   = "FUTURE"
)

// symbolRegex matches: [^]{root}[.{exchange}|-{quote}|=X|=F]
// Examples: AAPL, VWRL.L, BRK-B, BTC-USD, EURUSD=X, GC=F, ^GSPC
var symbolRegex = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-=]{0,14}$`)

var cryptoQuotes = map[string]bool{"USD": true, "EUR": true, "GBP": true, "USDT": true, "BTC": true}

var ErrInvalidSymbol = errors.New("symbol: invalid ticker")

// Symbol is a parsed market ticker.
type Symbol struct {
	Ticker   string `json:"ticker"`
	Root     string `json:"root"`
	Exchange string `json:"exchange,omitempty"`
	Kind     string `json:"kind"`
}

// Normalize trims and upper-cases a ticker.
func Normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Parse normalises and validates a ticker.
func Parse(ticker string) (*Symbol, error) {
	t := Normalize(ticker)
	if !symbolRegex.MatchString(t) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, ticker)
	}

	s := &Symbol{Ticker: t, Root: t, Kind: KindEquity}
	switch {
	case strings.HasPrefix(t, "^"):
		s.Kind = KindIndex
		s.Root = t[1:]
	case strings.HasSuffix(t, "=X"):
		s.Kind = KindCurrency
		s.Root = strings.TrimSuffix(t, "=X")
	case strings.HasSuffix(t, "=F"):
		s.Kind = KindFuture
		s.Root = strings.TrimSuffix(t, "=F")
	default:
		if root, quote, ok := strings.Cut(t, "-"); ok && cryptoQuotes[quote] {
			s.Kind = KindCrypto
			s.Root = root
		} else if root, exch, ok := strings.Cut(t, "."); ok && exch != "" {
			s.Root = root
			s.Exchange = exch
		}
	}
	if s.Root == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, ticker)
	}
	return s, nil
}

// AssetTypeHint guesses the asset class from the ticker shape. Equities are
// reported as stocks; ETFs and bonds cannot be told apart by shape.
func (s *Symbol) AssetTypeHint() model.AssetType {
	switch s.Kind {
	case KindCrypto:
		return model.Crypto
	case KindFuture:
		return model.Commodities
	}
	return model.Stock
}
