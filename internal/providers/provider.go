// Package providers holds the market-data provider adapters. Every provider
// implements the same fetch contract; selection logic never special-cases a
// variant.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Provider fetches an OHLCV series for one ticker.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, ticker string) (*market.OHLCV, error)
}

// HTTPError is a transient provider failure carrying the response status.
type HTTPError struct {
	Provider string
	Status   int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Provider, e.Status)
}

// PayloadError is a malformed or empty response. It counts as a provider
// failure (the provider is misbehaving), unlike a quality-gate rejection.
type PayloadError struct {
	Provider string
	Reason   string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: bad payload: %s", e.Provider, e.Reason)
}

// Options configures one provider adapter. A non-positive Timeout falls back
// to the default per-call bound.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New builds the adapter for a known provider name.
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "fmp":
		return NewFMP(opts), nil
	case "finnhub":
		return NewFinnhub(opts), nil
	case "alphavantage":
		return NewAlphaVantage(opts), nil
	case "polygon":
		return NewPolygon(opts), nil
	case "yahoo":
		return NewYahoo(opts), nil
	case "tiingo":
		return NewTiingo(opts), nil
	case "paper":
		return NewPaper(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
