// Package circuit guards each provider with a closed/open/half-open breaker.
// Admission (Allow) is separated from outcome reporting (RecordSuccess /
// RecordFailure) because the failover selector admits a call well before its
// outcome is known.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// OpenError reports a rejected call against an open breaker.
type OpenError struct {
	Provider string
	Wait     time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Provider, e.Wait.Round(time.Second))
}

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning.
type Config struct {
	FailureThreshold int           // Consecutive failures to open the circuit
	Cooldown         time.Duration // Open duration before a half-open trial
}

// Breaker is a per-provider circuit breaker. State transitions are driven
// only by call outcomes and elapsed time.
type Breaker struct {
	mu       sync.Mutex
	provider string
	config   Config
	clock    func() time.Time

	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool

	totalFailures  int64
	totalSuccesses int64
}

// NewBreaker creates a closed breaker for the named provider.
func NewBreaker(provider string, config Config) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	return &Breaker{
		provider: provider,
		config:   config,
		clock:    time.Now,
		state:    StateClosed,
	}
}

// Allow reports whether a call may proceed. In half-open state exactly one
// trial call is admitted; concurrent callers are rejected until its outcome
// is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.clock().Sub(b.openedAt)
		if elapsed < b.config.Cooldown {
			return &OpenError{Provider: b.provider, Wait: b.config.Cooldown - elapsed}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return &OpenError{Provider: b.provider, Wait: 0}
		}
		b.trialInFlight = true
		return nil
	default:
		return &OpenError{Provider: b.provider}
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.trialInFlight = false
	}
}

// Cancel abandons an admitted call without recording an outcome. A
// half-open trial slot is returned so the next caller can run the trial.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.clock()
		}
	case StateHalfOpen:
		// Failed trial re-opens and restarts the cooldown clock.
		b.state = StateOpen
		b.openedAt = b.clock()
		b.trialInFlight = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Provider       string    `json:"provider"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	TotalSuccesses int64     `json:"total_successes"`
	TotalFailures  int64     `json:"total_failures"`
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Provider:       b.provider,
		State:          b.state.String(),
		Failures:       b.failures,
		OpenedAt:       b.openedAt,
		TotalSuccesses: b.totalSuccesses,
		TotalFailures:  b.totalFailures,
	}
}

// SetClock replaces the breaker's time source. Tests use it to simulate the
// cooldown elapsing without sleeping.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// Manager holds one breaker per provider.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	breakers map[string]*Breaker
}

// NewManager creates a manager that builds breakers with the given config.
func NewManager(config Config) *Manager {
	return &Manager{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for a provider, creating it on first use.
func (m *Manager) Breaker(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, m.config)
	m.breakers[provider] = b
	return b
}

// Status returns snapshots of all breakers keyed by provider.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Status()
	}
	return out
}
