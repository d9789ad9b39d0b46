// Package stages holds the downstream collaborators a processed series is
// handed to: signal evaluation, risk sizing, and order placement. Each stage
// is an interface so the pipeline never depends on a concrete model or
// broker.
package stages

import (
	"context"
	"fmt"

	"github.com/findash/fdp/internal/market"
)

// Direction is the trade direction a signal recommends.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Signal is a model's verdict on one ticker.
type Signal struct {
	Ticker     string    `json:"ticker"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
}

// SignalModel evaluates an OHLCV series into a directional signal.
type SignalModel interface {
	Evaluate(ctx context.Context, series *market.OHLCV) (Signal, error)
}

// Order is a sized, risk-approved instruction for the broker.
type Order struct {
	Ticker   string    `json:"ticker"`
	Side     Direction `json:"side"`
	Shares   float64   `json:"shares"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
}

// Account is the broker-side view risk decisions are made against.
type Account struct {
	Capital   float64            `json:"capital"`
	Positions map[string]float64 `json:"positions,omitempty"`
}

// BlockError is a risk rejection. It is terminal for the job, not a fault.
type BlockError struct {
	Ticker string
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("risk blocked %s: %s", e.Ticker, e.Reason)
}

// RiskManager sizes a signal into an order or blocks it.
type RiskManager interface {
	Size(ctx context.Context, signal Signal, account Account) (Order, error)
}

// Placement is the broker's acknowledgement of an order.
type Placement struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Broker places orders. PlaceOrder must be idempotent per jobKey so a
// redelivered job cannot double-fill.
type Broker interface {
	PlaceOrder(ctx context.Context, jobKey string, order Order) (Placement, error)
	AccountSummary(ctx context.Context) (Account, error)
}
