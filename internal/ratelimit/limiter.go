// Package ratelimit bounds the request rate and the number of outstanding
// calls per provider. Acquisition blocks until a slot and a token are
// available or the caller's context expires.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is the admission gate for a single provider: a token bucket for
// request rate, plus a semaphore for concurrent in-flight calls.
type Limiter struct {
	provider string
	bucket   *rate.Limiter
	slots    chan struct{}
}

// NewLimiter creates a limiter allowing rps requests per second with the
// given burst, and at most maxInFlight concurrent calls.
func NewLimiter(provider string, rps float64, burst, maxInFlight int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Limiter{
		provider: provider,
		bucket:   rate.NewLimiter(rate.Limit(rps), burst),
		slots:    make(chan struct{}, maxInFlight),
	}
}

// Acquire blocks until both an in-flight slot and a rate token are available.
// The returned release func must be called once the provider call finishes.
// A saturated provider never stalls a worker past the context deadline.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("rate limit slot for %s: %w", l.provider, ctx.Err())
	}

	if err := l.bucket.Wait(ctx); err != nil {
		<-l.slots
		return nil, fmt.Errorf("rate limit token for %s: %w", l.provider, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}, nil
}

// Stats is a point-in-time view of one limiter.
type Stats struct {
	Provider        string  `json:"provider"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
	InFlight        int     `json:"in_flight"`
	MaxInFlight     int     `json:"max_in_flight"`
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() Stats {
	return Stats{
		Provider:        l.provider,
		RPS:             float64(l.bucket.Limit()),
		Burst:           l.bucket.Burst(),
		TokensAvailable: l.bucket.Tokens(),
		InFlight:        len(l.slots),
		MaxInFlight:     cap(l.slots),
	}
}

// Manager holds one limiter per provider.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty limiter manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a limiter for the named provider.
func (m *Manager) AddProvider(name string, rps float64, burst, maxInFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(name, rps, burst, maxInFlight)
}

// Acquire obtains admission for the named provider. Providers without a
// configured limiter are admitted immediately.
func (m *Manager) Acquire(ctx context.Context, provider string) (func(), error) {
	m.mu.RLock()
	l, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return func() {}, nil
	}
	return l.Acquire(ctx)
}

// Stats returns statistics for all providers.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.limiters))
	for name, l := range m.limiters {
		out[name] = l.Stats()
	}
	return out
}
