package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/findash/fdp/internal/market"
)

// AlphaVantage fetches the TIME_SERIES_DAILY endpoint.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewAlphaVantage creates the Alpha Vantage adapter.
func NewAlphaVantage(opts Options) *AlphaVantage {
	base := opts.BaseURL
	if base == "" {
		base = "https://www.alphavantage.co"
	}
	return &AlphaVantage{baseURL: base, apiKey: opts.APIKey, rest: newRESTClient("alphavantage", opts.Timeout)}
}

func (p *AlphaVantage) Name() string { return "alphavantage" }

type alphaDaily struct {
	Note   string                       `json:"Note"`
	Series map[string]map[string]string `json:"Time Series (Daily)"`
}

// Fetch returns daily bars. Alpha Vantage throttling comes back as a 200
// with a Note body, which is surfaced as an HTTP 429 so the circuit and
// failover treat it like any other transient rejection.
func (p *AlphaVantage) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	u := fmt.Sprintf("%s/query?function=TIME_SERIES_DAILY&symbol=%s&apikey=%s",
		p.baseURL, url.QueryEscape(ticker), url.QueryEscape(p.apiKey))

	var payload alphaDaily
	if err := p.rest.getJSON(ctx, u, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Note != "" {
		return nil, &HTTPError{Provider: "alphavantage", Status: 429}
	}
	if len(payload.Series) == 0 {
		return nil, &PayloadError{Provider: "alphavantage", Reason: "empty time series"}
	}

	dates := make([]string, 0, len(payload.Series))
	for d := range payload.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	bars := make([]market.Bar, 0, len(dates))
	for _, d := range dates {
		ts, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, &PayloadError{Provider: "alphavantage", Reason: "unparseable date " + d}
		}
		row := payload.Series[d]
		bar := market.Bar{Time: ts}
		for key, dst := range map[string]*float64{
			"1. open": &bar.Open, "2. high": &bar.High,
			"3. low": &bar.Low, "4. close": &bar.Close, "5. volume": &bar.Volume,
		} {
			v, err := strconv.ParseFloat(row[key], 64)
			if err != nil {
				return nil, &PayloadError{Provider: "alphavantage", Reason: "unparseable field " + key}
			}
			*dst = v
		}
		bars = append(bars, bar)
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "alphavantage",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
