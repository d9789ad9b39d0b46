package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Polygon fetches daily aggregates from the Polygon.io v2 API.
type Polygon struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewPolygon creates the Polygon adapter.
func NewPolygon(opts Options) *Polygon {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.polygon.io"
	}
	return &Polygon{baseURL: base, apiKey: opts.APIKey, rest: newRESTClient("polygon", opts.Timeout)}
}

func (p *Polygon) Name() string { return "polygon" }

type polygonAggs struct {
	Status  string `json:"status"`
	Results []struct {
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
		TimeMS int64   `json:"t"`
	} `json:"results"`
}

// Fetch returns roughly a quarter of daily aggregates.
func (p *Polygon) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, -3, 0)
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&apiKey=%s",
		p.baseURL, url.PathEscape(ticker),
		from.Format("2006-01-02"), to.Format("2006-01-02"),
		url.QueryEscape(p.apiKey))

	var payload polygonAggs
	if err := p.rest.getJSON(ctx, u, nil, &payload); err != nil {
		return nil, err
	}
	if len(payload.Results) == 0 {
		return nil, &PayloadError{Provider: "polygon", Reason: "no aggregates"}
	}

	bars := make([]market.Bar, len(payload.Results))
	for i, row := range payload.Results {
		bars[i] = market.Bar{
			Time:   time.UnixMilli(row.TimeMS).UTC(),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		}
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "polygon",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
