// Package selector runs the provider failover chain: walk providers in
// priority order, admit the call through every gate (circuit, quota, rate
// limit, budget), and fall through to the next provider on failure.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/budget"
	"github.com/findash/fdp/internal/circuit"
	"github.com/findash/fdp/internal/market"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/providers"
	"github.com/findash/fdp/internal/ratelimit"
	"github.com/findash/fdp/internal/tiers"
)

// ErrNoProvider reports that every candidate was skipped or failed.
var ErrNoProvider = errors.New("no provider available")

// errBudgetDenied marks an attempt skipped because the reservation would
// exceed the daily cap.
var errBudgetDenied = errors.New("budget reservation denied")

// ExhaustedError wraps ErrNoProvider with the per-provider skip reasons.
type ExhaustedError struct {
	Ticker  string
	Reasons []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no provider available for %s: %s", e.Ticker, strings.Join(e.Reasons, "; "))
}

func (e *ExhaustedError) Unwrap() error { return ErrNoProvider }

// Selector picks the cheapest healthy provider for each fetch.
type Selector struct {
	registry *tiers.Registry
	circuits *circuit.Manager
	limits   *ratelimit.Manager
	ledger   budget.Ledger
	adapters map[string]providers.Provider
	metrics  *metrics.Registry
}

// New builds a selector over the given adapters. Adapters are keyed by
// provider name and must cover every provider registered in the registry
// that can be selected.
func New(registry *tiers.Registry, circuits *circuit.Manager, limits *ratelimit.Manager, ledger budget.Ledger, adapters map[string]providers.Provider) *Selector {
	return &Selector{
		registry: registry,
		circuits: circuits,
		limits:   limits,
		ledger:   ledger,
		adapters: adapters,
	}
}

// SetMetrics attaches per-provider call instrumentation.
func (s *Selector) SetMetrics(m *metrics.Registry) { s.metrics = m }

func (s *Selector) countCall(provider, result string) {
	if s.metrics != nil {
		s.metrics.ProviderCalls.WithLabelValues(provider, result).Inc()
	}
}

// Result is a successful fetch plus which provider served it.
type Result struct {
	Series   *market.OHLCV
	Provider string
	Cost     float64
}

// Fetch walks the provider order and returns the first successful series.
// A provider failure rolls back every resource acquired for that attempt
// before moving on, so an abandoned attempt leaves no residue.
func (s *Selector) Fetch(ctx context.Context, ticker string) (*Result, error) {
	var reasons []string

	for _, p := range s.registry.Providers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := p.Name
		if !p.Enabled() {
			reasons = append(reasons, name+": disabled")
			continue
		}

		adapter, ok := s.adapters[name]
		if !ok {
			reasons = append(reasons, name+": no adapter")
			continue
		}

		br := s.circuits.Breaker(name)
		if err := br.Allow(); err != nil {
			reasons = append(reasons, name+": circuit open")
			continue
		}

		result, err := s.attempt(ctx, br, p, adapter, ticker)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reasons = append(reasons, name+": "+err.Error())
	}

	return nil, &ExhaustedError{Ticker: ticker, Reasons: reasons}
}

// attempt runs one provider attempt. Resources are acquired in a fixed
// order (quota, rate slot, budget) and rolled back in reverse on any
// failure before the fetch completes.
func (s *Selector) attempt(ctx context.Context, br *circuit.Breaker, p *tiers.Provider, adapter providers.Provider, ticker string) (*Result, error) {
	name := p.Name

	if err := s.registry.TryAcquireCall(name); err != nil {
		// Quota exhaustion is not a provider fault; the trial slot is
		// returned without recording an outcome.
		br.Cancel()
		return nil, err
	}

	release, err := s.limits.Acquire(ctx, name)
	if err != nil {
		s.registry.ReleaseCall(name)
		br.Cancel()
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	defer release()

	if p.CostPerCall > 0 {
		admitted, rerr := s.ledger.Reserve(ctx, p.CostPerCall)
		if rerr != nil {
			s.registry.ReleaseCall(name)
			br.Cancel()
			return nil, fmt.Errorf("budget: %w", rerr)
		}
		if !admitted {
			s.registry.ReleaseCall(name)
			br.Cancel()
			return nil, errBudgetDenied
		}
	}

	series, err := adapter.Fetch(ctx, ticker)
	if err != nil {
		s.countCall(name, "failure")
		br.RecordFailure()
		s.registry.ReleaseCall(name)
		if p.CostPerCall > 0 {
			if relErr := s.ledger.Release(ctx, p.CostPerCall); relErr != nil {
				log.Warn().Err(relErr).Str("provider", name).Msg("budget refund failed")
			}
		}
		log.Warn().Err(err).Str("provider", name).Str("ticker", ticker).Msg("provider fetch failed")
		return nil, err
	}

	s.countCall(name, "success")
	br.RecordSuccess()
	if p.CostPerCall > 0 {
		if err := s.ledger.Attribute(ctx, name, p.CostPerCall); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("spend attribution failed")
		}
	}

	return &Result{Series: series, Provider: name, Cost: p.CostPerCall}, nil
}
