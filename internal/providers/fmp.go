package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/findash/fdp/internal/market"
)

// FMP fetches daily bars from Financial Modeling Prep.
type FMP struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewFMP creates the FMP adapter.
func NewFMP(opts Options) *FMP {
	base := opts.BaseURL
	if base == "" {
		base = "https://financialmodelingprep.com"
	}
	return &FMP{baseURL: base, apiKey: opts.APIKey, rest: newRESTClient("fmp", opts.Timeout)}
}

func (p *FMP) Name() string { return "fmp" }

type fmpHistorical struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"historical"`
}

// Fetch returns the daily series in chronological order. FMP delivers it
// newest-first.
func (p *FMP) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	u := fmt.Sprintf("%s/api/v3/historical-price-full/%s?serietype=line&apikey=%s",
		p.baseURL, url.PathEscape(ticker), url.QueryEscape(p.apiKey))

	var payload fmpHistorical
	if err := p.rest.getJSON(ctx, u, nil, &payload); err != nil {
		return nil, err
	}
	if len(payload.Historical) == 0 {
		return nil, &PayloadError{Provider: "fmp", Reason: "no historical rows"}
	}

	bars := make([]market.Bar, 0, len(payload.Historical))
	for i := len(payload.Historical) - 1; i >= 0; i-- {
		row := payload.Historical[i]
		ts, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, &PayloadError{Provider: "fmp", Reason: "unparseable date " + row.Date}
		}
		bars = append(bars, market.Bar{
			Time: ts, Open: row.Open, High: row.High, Low: row.Low,
			Close: row.Close, Volume: row.Volume,
		})
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "fmp",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
