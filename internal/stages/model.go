package stages

import (
	"context"
	"fmt"
	"math"

	"github.com/findash/fdp/internal/market"
)

const momentumLookback = 20

// MomentumModel is the shipped stand-in model: trailing return over a short
// lookback, scaled by realized volatility. Deterministic for a given series.
type MomentumModel struct {
	Lookback int
}

// NewMomentumModel creates the model with the default lookback.
func NewMomentumModel() *MomentumModel {
	return &MomentumModel{Lookback: momentumLookback}
}

func (m *MomentumModel) Evaluate(_ context.Context, series *market.OHLCV) (Signal, error) {
	bars := series.Bars
	lookback := m.Lookback
	if lookback <= 0 {
		lookback = momentumLookback
	}
	if len(bars) < lookback+1 {
		return Signal{}, fmt.Errorf("momentum: need %d bars, have %d", lookback+1, len(bars))
	}

	window := bars[len(bars)-lookback-1:]
	first, last := window[0].Close, window[len(window)-1].Close
	if first <= 0 {
		return Signal{}, fmt.Errorf("momentum: non-positive anchor close")
	}
	ret := (last - first) / first

	// Realized volatility of daily returns over the window.
	var sum, sumSq float64
	n := 0
	for i := 1; i < len(window); i++ {
		if window[i-1].Close <= 0 {
			continue
		}
		r := (window[i].Close - window[i-1].Close) / window[i-1].Close
		sum += r
		sumSq += r * r
		n++
	}
	if n < 2 {
		return Signal{}, fmt.Errorf("momentum: too few usable returns")
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	vol := math.Sqrt(math.Max(variance, 1e-12)) * math.Sqrt(float64(lookback))

	score := ret / vol
	confidence := math.Min(math.Abs(score), 1.0)

	sig := Signal{
		Ticker:     series.Ticker,
		Confidence: confidence,
		Price:      last,
	}
	switch {
	case score > 0:
		sig.Direction = DirectionLong
	case score < 0:
		sig.Direction = DirectionShort
	default:
		sig.Direction = DirectionFlat
	}
	return sig, nil
}
