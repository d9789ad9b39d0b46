// Package budget enforces the daily monetary API budget. Admission is a
// single atomic check-and-increment: a reservation either fits under the
// daily cap and is recorded, or is rejected with no side effect.
package budget

import (
	"context"
	"fmt"
	"time"
)

// ErrExhausted is returned by helpers that treat a denied reservation as fatal.
type ExhaustedError struct {
	Date  string
	Spent float64
	Cap   float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("daily budget exhausted for %s: %.4f/%.4f spent", e.Date, e.Spent, e.Cap)
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	Date       string             `json:"date"`
	Spent      float64            `json:"spent"`
	DailyCap   float64            `json:"daily_cap"`
	Headroom   float64            `json:"headroom"`
	ByProvider map[string]float64 `json:"by_provider,omitempty"`
}

// HeadroomFraction returns the remaining budget as a fraction of the cap.
func (s Snapshot) HeadroomFraction() float64 {
	if s.DailyCap <= 0 {
		return 0
	}
	return s.Headroom / s.DailyCap
}

// Ledger tracks cumulative spend against a daily cap. Spend is monotonically
// non-decreasing within a day except for explicit refunds of reservations
// whose provider call never completed. The day boundary is detected from the
// UTC date on access, so a restart spanning midnight starts a fresh day.
type Ledger interface {
	// Reserve atomically checks spent+amount <= cap and records the spend.
	// It returns false, with no state change, when the reservation would
	// exceed the cap.
	Reserve(ctx context.Context, amount float64) (bool, error)
	// Release refunds a reservation for a call that was admitted but never
	// performed.
	Release(ctx context.Context, amount float64) error
	// Attribute records completed spend against a provider for reporting.
	Attribute(ctx context.Context, provider string, amount float64) error
	// Snapshot returns the current date, spend and headroom.
	Snapshot(ctx context.Context) (Snapshot, error)
}

func utcDate(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
