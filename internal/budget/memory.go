package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps the ledger in process memory. It implements the same
// admission contract as RedisLedger but does not survive restarts; it backs
// tests and redis-less development runs.
type MemoryLedger struct {
	mu         sync.Mutex
	dailyCap   float64
	spent      float64
	date       string
	byProvider map[string]float64
	now        func() time.Time
}

// NewMemoryLedger creates an in-memory ledger with the given daily cap.
func NewMemoryLedger(dailyCap float64) *MemoryLedger {
	now := time.Now
	return &MemoryLedger{
		dailyCap:   dailyCap,
		date:       utcDate(now()),
		byProvider: make(map[string]float64),
		now:        now,
	}
}

// rollover resets state when the UTC date has changed. Callers hold mu.
func (l *MemoryLedger) rollover() {
	if d := utcDate(l.now()); d != l.date {
		l.date = d
		l.spent = 0
		l.byProvider = make(map[string]float64)
	}
}

// Reserve atomically admits amount within the daily cap.
func (l *MemoryLedger) Reserve(_ context.Context, amount float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	if l.spent+amount > l.dailyCap+1e-9 {
		return false, nil
	}
	l.spent += amount
	return true, nil
}

// Release refunds a reservation whose call never happened.
func (l *MemoryLedger) Release(_ context.Context, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	l.spent -= amount
	if l.spent < 0 {
		l.spent = 0
	}
	return nil
}

// Attribute records completed spend against a provider.
func (l *MemoryLedger) Attribute(_ context.Context, provider string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	l.byProvider[provider] += amount
	return nil
}

// Snapshot returns the current day's spend and headroom.
func (l *MemoryLedger) Snapshot(_ context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	byProvider := make(map[string]float64, len(l.byProvider))
	for k, v := range l.byProvider {
		byProvider[k] = v
	}
	return Snapshot{
		Date:       l.date,
		Spent:      l.spent,
		DailyCap:   l.dailyCap,
		Headroom:   l.dailyCap - l.spent,
		ByProvider: byProvider,
	}, nil
}
