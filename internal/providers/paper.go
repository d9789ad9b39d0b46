package providers

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/findash/fdp/internal/market"
)

// Paper generates a deterministic synthetic series per ticker. It serves
// alert-only and paper runs without any external dependency, and anchors
// tests that need a always-healthy provider.
type Paper struct{}

// NewPaper creates the synthetic provider.
func NewPaper() *Paper { return &Paper{} }

func (p *Paper) Name() string { return "paper" }

// Fetch returns 90 synthetic daily bars seeded from the ticker name, so the
// same ticker always yields the same series.
func (p *Paper) Fetch(_ context.Context, ticker string) (*market.OHLCV, error) {
	h := fnv.New64a()
	h.Write([]byte(ticker))
	seed := h.Sum64()

	base := 20 + float64(seed%400)
	day := time.Now().UTC().Truncate(24 * time.Hour)
	start := day.AddDate(0, 0, -90)

	bars := make([]market.Bar, 90)
	price := base
	for i := range bars {
		// Slow drift plus a deterministic wobble; bounded away from zero.
		wobble := math.Sin(float64(i)/7+float64(seed%13)) * base * 0.01
		open := price
		close := price + wobble
		high := math.Max(open, close) * 1.005
		low := math.Min(open, close) * 0.995

		bars[i] = market.Bar{
			Time:   start.AddDate(0, 0, i),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 50000 + float64((seed>>uint(i%32))%10000),
		}
		price = close
	}

	return &market.OHLCV{
		Ticker:    ticker,
		Provider:  "paper",
		Bars:      bars,
		FetchedAt: time.Now().UTC(),
	}, nil
}
