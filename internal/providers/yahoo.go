package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Yahoo fetches the unauthenticated chart endpoint.
type Yahoo struct {
	baseURL string
	rest    *restClient
}

// NewYahoo creates the Yahoo Finance adapter.
func NewYahoo(opts Options) *Yahoo {
	base := opts.BaseURL
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	return &Yahoo{baseURL: base, rest: newRESTClient("yahoo", opts.Timeout)}
}

func (p *Yahoo) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch returns three months of daily bars.
func (p *Yahoo) Fetch(ctx context.Context, ticker string) (*market.OHLCV, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=3mo&interval=1d",
		p.baseURL, url.PathEscape(ticker))

	var payload yahooChart
	if err := p.rest.getJSON(ctx, u, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Chart.Error != nil {
		return nil, &PayloadError{Provider: "yahoo", Reason: payload.Chart.Error.Code}
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &PayloadError{Provider: "yahoo", Reason: "empty chart result"}
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if n == 0 || len(quote.Open) != n || len(quote.Close) != n {
		return nil, &PayloadError{Provider: "yahoo", Reason: "ragged quote arrays"}
	}

	bars := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = market.Bar{
			Time:   time.Unix(result.Timestamp[i], 0).UTC(),
			Open:   quote.Open[i],
			High:   quote.High[i],
			Low:    quote.Low[i],
			Close:  quote.Close[i],
			Volume: quote.Volume[i],
		}
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "yahoo",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
