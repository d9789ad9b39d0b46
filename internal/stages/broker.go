package stages

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// PaperBroker simulates fills against an in-memory account. Placement is
// idempotent per job key and routed through a circuit breaker so a wedged
// downstream in live wiring degrades the same way.
type PaperBroker struct {
	mu       sync.Mutex
	capital  float64
	holdings map[string]float64
	placed   map[string]Placement

	breaker *gobreaker.CircuitBreaker
}

// NewPaperBroker creates a paper broker with the given starting capital.
func NewPaperBroker(capital float64) *PaperBroker {
	return &PaperBroker{
		capital:  capital,
		holdings: make(map[string]float64),
		placed:   make(map[string]Placement),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("broker breaker state change")
			},
		}),
	}
}

// PlaceOrder fills the order at its stated price. A job key seen before
// returns the original placement without touching the account.
func (b *PaperBroker) PlaceOrder(ctx context.Context, jobKey string, order Order) (Placement, error) {
	if err := ctx.Err(); err != nil {
		return Placement{}, err
	}

	out, err := b.breaker.Execute(func() (interface{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if prior, ok := b.placed[jobKey]; ok {
			return prior, nil
		}

		placement := Placement{OrderID: uuid.NewString(), Status: "filled"}
		b.placed[jobKey] = placement
		b.holdings[order.Ticker] += order.Shares

		log.Info().
			Str("ticker", order.Ticker).
			Str("side", string(order.Side)).
			Float64("shares", order.Shares).
			Float64("notional", order.Notional).
			Str("order_id", placement.OrderID).
			Msg("paper order filled")
		return placement, nil
	})
	if err != nil {
		return Placement{}, err
	}
	return out.(Placement), nil
}

// AccountSummary returns the simulated account state.
func (b *PaperBroker) AccountSummary(_ context.Context) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make(map[string]float64, len(b.holdings))
	for ticker, shares := range b.holdings {
		positions[ticker] = shares
	}
	return Account{Capital: b.capital, Positions: positions}, nil
}
