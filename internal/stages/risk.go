package stages

import (
	"context"
	"fmt"
	"math"
)

// KellyRisk sizes positions with a fractional-Kelly rule capped by a
// per-position percentage of account capital.
type KellyRisk struct {
	// KellyFraction scales the raw Kelly allocation (quarter-Kelly by
	// default upstream).
	KellyFraction float64
	// MaxPositionPercent caps any single position as a percent of capital.
	MaxPositionPercent float64
}

// NewKellyRisk creates the risk manager.
func NewKellyRisk(kellyFraction, maxPositionPercent float64) *KellyRisk {
	return &KellyRisk{KellyFraction: kellyFraction, MaxPositionPercent: maxPositionPercent}
}

func (k *KellyRisk) Size(_ context.Context, signal Signal, account Account) (Order, error) {
	if signal.Direction == DirectionFlat {
		return Order{}, &BlockError{Ticker: signal.Ticker, Reason: "flat signal"}
	}
	if signal.Price <= 0 {
		return Order{}, &BlockError{Ticker: signal.Ticker, Reason: "non-positive price"}
	}
	if account.Capital <= 0 {
		return Order{}, &BlockError{Ticker: signal.Ticker, Reason: "no capital"}
	}
	if _, held := account.Positions[signal.Ticker]; held {
		return Order{}, &BlockError{Ticker: signal.Ticker, Reason: "position already open"}
	}

	// Kelly edge from confidence treated as win probability with 1:1 payoff,
	// then scaled down and capped.
	edge := 2*signal.Confidence - 1
	if edge <= 0 {
		return Order{}, &BlockError{Ticker: signal.Ticker, Reason: "no edge"}
	}
	fraction := math.Min(k.KellyFraction*edge, k.MaxPositionPercent/100)

	notional := account.Capital * fraction
	shares := math.Floor(notional / signal.Price)
	if shares < 1 {
		return Order{}, &BlockError{
			Ticker: signal.Ticker,
			Reason: fmt.Sprintf("sized below one share (notional %.2f at %.2f)", notional, signal.Price),
		}
	}

	return Order{
		Ticker:   signal.Ticker,
		Side:     signal.Direction,
		Shares:   shares,
		Price:    signal.Price,
		Notional: shares * signal.Price,
	}, nil
}
