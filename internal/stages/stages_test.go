package stages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/market"
)

func trendingSeries(ticker string, bars int, dailyReturn float64) *market.OHLCV {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Bar, bars)
	price := 100.0
	for i := range out {
		next := price * (1 + dailyReturn)
		out[i] = market.Bar{
			Time:   start.AddDate(0, 0, i),
			Open:   price,
			High:   maxf(price, next) * 1.001,
			Low:    minf(price, next) * 0.999,
			Close:  next,
			Volume: 10000,
		}
		price = next
	}
	return &market.OHLCV{Ticker: ticker, Provider: "paper", Bars: out, FetchedAt: time.Now().UTC()}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func TestMomentumModel_Directions(t *testing.T) {
	model := NewMomentumModel()

	up, err := model.Evaluate(context.Background(), trendingSeries("UP", 30, 0.01))
	if err != nil {
		t.Fatalf("Evaluate up: %v", err)
	}
	if up.Direction != DirectionLong {
		t.Errorf("up direction = %s, want long", up.Direction)
	}
	if up.Confidence <= 0.9 {
		t.Errorf("steady uptrend confidence = %v, want > 0.9", up.Confidence)
	}

	down, err := model.Evaluate(context.Background(), trendingSeries("DN", 30, -0.01))
	if err != nil {
		t.Fatalf("Evaluate down: %v", err)
	}
	if down.Direction != DirectionShort {
		t.Errorf("down direction = %s, want short", down.Direction)
	}
}

func TestMomentumModel_TooFewBars(t *testing.T) {
	model := NewMomentumModel()
	if _, err := model.Evaluate(context.Background(), trendingSeries("X", 5, 0.01)); err == nil {
		t.Error("expected error for short series")
	}
}

func TestKellyRisk_SizesWithinCap(t *testing.T) {
	risk := NewKellyRisk(0.25, 2.0)
	signal := Signal{Ticker: "AAPL", Direction: DirectionLong, Confidence: 1.0, Price: 50}
	account := Account{Capital: 100000}

	order, err := risk.Size(context.Background(), signal, account)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// Full edge is capped at 2% of capital: 2000 notional, 40 shares at 50.
	if order.Shares != 40 {
		t.Errorf("shares = %v, want 40", order.Shares)
	}
	if order.Notional != 2000 {
		t.Errorf("notional = %v, want 2000", order.Notional)
	}
}

func TestKellyRisk_Blocks(t *testing.T) {
	risk := NewKellyRisk(0.25, 2.0)
	account := Account{Capital: 100000, Positions: map[string]float64{"HELD": 10}}

	cases := []struct {
		name   string
		signal Signal
	}{
		{"flat", Signal{Ticker: "A", Direction: DirectionFlat, Confidence: 0.9, Price: 50}},
		{"no edge", Signal{Ticker: "B", Direction: DirectionLong, Confidence: 0.5, Price: 50}},
		{"held", Signal{Ticker: "HELD", Direction: DirectionLong, Confidence: 0.9, Price: 50}},
		{"bad price", Signal{Ticker: "C", Direction: DirectionLong, Confidence: 0.9, Price: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := risk.Size(context.Background(), tc.signal, account)
			var blocked *BlockError
			if !errors.As(err, &blocked) {
				t.Fatalf("err = %v, want *BlockError", err)
			}
		})
	}
}

func TestPaperBroker_IdempotentPerJobKey(t *testing.T) {
	broker := NewPaperBroker(100000)
	order := Order{Ticker: "AAPL", Side: DirectionLong, Shares: 40, Price: 50, Notional: 2000}

	first, err := broker.PlaceOrder(context.Background(), "job-1", order)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	second, err := broker.PlaceOrder(context.Background(), "job-1", order)
	if err != nil {
		t.Fatalf("PlaceOrder replay: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Errorf("replay produced a new order: %s vs %s", first.OrderID, second.OrderID)
	}

	account, _ := broker.AccountSummary(context.Background())
	if account.Positions["AAPL"] != 40 {
		t.Errorf("position = %v, want 40 (single fill)", account.Positions["AAPL"])
	}
}

type recordingBroker struct {
	account Account
	calls   int
}

func (r *recordingBroker) PlaceOrder(_ context.Context, _ string, _ Order) (Placement, error) {
	r.calls++
	return Placement{OrderID: "rec-1", Status: "filled"}, nil
}

func (r *recordingBroker) AccountSummary(_ context.Context) (Account, error) {
	return r.account, nil
}

func TestPipeline_AlertOnlyNeverPlacesOrders(t *testing.T) {
	broker := &recordingBroker{account: Account{Capital: 100000}}
	p := NewPipeline(NewMomentumModel(), NewKellyRisk(0.25, 2.0), broker, config.ModeAlertOnly, 0.75)

	res, err := p.Run(context.Background(), "job-1", trendingSeries("AAPL", 30, 0.01))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeAlerted {
		t.Errorf("outcome = %s, want alerted", res.Outcome)
	}
	if broker.calls != 0 {
		t.Errorf("broker called %d times in alert-only mode", broker.calls)
	}
}

func TestPipeline_PaperModePlacesOrder(t *testing.T) {
	broker := &recordingBroker{account: Account{Capital: 100000}}
	p := NewPipeline(NewMomentumModel(), NewKellyRisk(0.25, 2.0), broker, config.ModePaper, 0.75)

	res, err := p.Run(context.Background(), "job-2", trendingSeries("MSFT", 30, 0.01))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeOrdered {
		t.Fatalf("outcome = %s, want ordered", res.Outcome)
	}
	if broker.calls != 1 {
		t.Errorf("broker calls = %d, want 1", broker.calls)
	}
	if res.Order.Shares <= 0 {
		t.Errorf("order shares = %v", res.Order.Shares)
	}
}

func TestPipeline_LowConfidenceSkipped(t *testing.T) {
	broker := &recordingBroker{account: Account{Capital: 100000}}
	p := NewPipeline(NewMomentumModel(), NewKellyRisk(0.25, 2.0), broker, config.ModePaper, 0.99)

	// A choppy series: closes oscillate around 100 with no drift, so the
	// momentum score stays near zero.
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 30)
	for i := range bars {
		px := 100.0
		if i%2 == 1 {
			px = 100.5
		}
		bars[i] = market.Bar{
			Time: start.AddDate(0, 0, i),
			Open: 100, High: 101, Low: 99.5, Close: px, Volume: 10000,
		}
	}
	series := &market.OHLCV{Ticker: "CHOP", Provider: "paper", Bars: bars, FetchedAt: time.Now().UTC()}

	res, err := p.Run(context.Background(), "job-3", series)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeLowConfidence {
		t.Errorf("outcome = %s, want low_confidence", res.Outcome)
	}
	if broker.calls != 0 {
		t.Errorf("broker calls = %d, want 0", broker.calls)
	}
}
