package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Tiingo fetches end-of-day prices from the Tiingo daily API.
type Tiingo struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewTiingo creates the Tiingo adapter.
func NewTiingo(opts Options) *Tiingo {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.tiingo.com"
	}
	return &Tiingo{baseURL: base, apiKey: opts.APIKey, rest: newRESTClient("tiingo", opts.Timeout)}
}

func (p *Tiingo) Name() string { return "tiingo" }

type tiingoRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Fetch returns three months of daily prices.
func (p *Tiingo) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	start := time.Now().UTC().AddDate(0, -3, 0)
	u := fmt.Sprintf("%s/tiingo/daily/%s/prices?startDate=%s",
		p.baseURL, url.PathEscape(ticker), start.Format("2006-01-02"))

	headers := map[string]string{"Authorization": "Token " + p.apiKey}
	var rows []tiingoRow
	if err := p.rest.getJSON(ctx, u, headers, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &PayloadError{Provider: "tiingo", Reason: "no price rows"}
	}

	bars := make([]market.Bar, len(rows))
	for i, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			return nil, &PayloadError{Provider: "tiingo", Reason: "unparseable date " + row.Date}
		}
		bars[i] = market.Bar{
			Time: ts, Open: row.Open, High: row.High, Low: row.Low,
			Close: row.Close, Volume: row.Volume,
		}
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "tiingo",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
