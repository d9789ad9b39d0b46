package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Finnhub fetches daily candles from the Finnhub stock API.
type Finnhub struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewFinnhub creates the Finnhub adapter.
func NewFinnhub(opts Options) *Finnhub {
	base := opts.BaseURL
	if base == "" {
		base = "https://finnhub.io"
	}
	return &Finnhub{baseURL: base, apiKey: opts.APIKey, rest: newRESTClient("finnhub", opts.Timeout)}
}

func (p *Finnhub) Name() string { return "finnhub" }

type finnhubCandles struct {
	Status string    `json:"s"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
	Time   []int64   `json:"t"`
}

// Fetch returns roughly a quarter of daily candles.
func (p *Finnhub) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, -3, 0)
	u := fmt.Sprintf("%s/api/v1/stock/candle?symbol=%s&resolution=D&from=%d&to=%d",
		p.baseURL, url.QueryEscape(ticker), from.Unix(), to.Unix())

	var payload finnhubCandles
	headers := map[string]string{"X-Finnhub-Token": p.apiKey}
	if err := p.rest.getJSON(ctx, u, headers, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "ok" {
		return nil, &PayloadError{Provider: "finnhub", Reason: "status " + payload.Status}
	}
	n := len(payload.Time)
	if n == 0 || len(payload.Open) != n || len(payload.High) != n ||
		len(payload.Low) != n || len(payload.Close) != n || len(payload.Volume) != n {
		return nil, &PayloadError{Provider: "finnhub", Reason: "ragged candle arrays"}
	}

	bars := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = market.Bar{
			Time:   time.Unix(payload.Time[i], 0).UTC(),
			Open:   payload.Open[i],
			High:   payload.High[i],
			Low:    payload.Low[i],
			Close:  payload.Close[i],
			Volume: payload.Volume[i],
		}
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "finnhub",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
