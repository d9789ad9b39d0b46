// Package tiers holds per-provider usage tiers and quota counters. The quota
// check-and-increment is a single compare-and-swap so concurrent workers can
// never push a free-tier provider past its daily call quota.
package tiers

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Tier is a provider's usage class.
type Tier string

const (
	TierFree     Tier = "free"
	TierPremium  Tier = "premium"
	TierDisabled Tier = "disabled"
)

// QuotaExhaustedError reports a free-tier provider at its call quota.
type QuotaExhaustedError struct {
	Provider string
	Used     int64
	Quota    int64
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("call quota exhausted for %s: %d/%d used", e.Provider, e.Used, e.Quota)
}

// Provider is the registry's record for one data provider. Counters are only
// mutated through the registry's atomic operations.
type Provider struct {
	Name         string
	CostPerCall  float64
	PriorityRank int

	tier atomic.Value // Tier
	// enabled is the operator flag; quotaOut tracks automatic disablement
	// at quota so a refund cannot override an operator disable.
	enabled   atomic.Bool
	quotaOut  atomic.Bool
	callsUsed atomic.Int64
	callQuota int64
}

// Tier returns the provider's current tier.
func (p *Provider) Tier() Tier {
	return p.tier.Load().(Tier)
}

// Enabled reports whether the provider may be selected.
func (p *Provider) Enabled() bool {
	return p.enabled.Load() && !p.quotaOut.Load() && p.Tier() != TierDisabled
}

// ProviderStatus is a point-in-time view of one provider.
type ProviderStatus struct {
	Name         string  `json:"name"`
	Tier         Tier    `json:"tier"`
	Enabled      bool    `json:"enabled"`
	CallsUsed    int64   `json:"calls_used"`
	CallQuota    int64   `json:"call_quota"`
	CostPerCall  float64 `json:"cost_per_call"`
	PriorityRank int     `json:"priority_rank"`
}

// Registry owns provider tier state. Reads are concurrent; counter mutation
// goes through TryAcquireCall/ReleaseCall only.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	ordered   []*Provider

	resetDate atomic.Value // string, UTC date of the active quota window
	now       func() time.Time
}

// Spec describes one provider to register.
type Spec struct {
	Name         string
	Tier         Tier
	CallQuota    int64
	CostPerCall  float64
	PriorityRank int
	Enabled      bool
}

// NewRegistry builds a registry from provider specs, ordered by priority rank
// breaking ties on cost per call.
func NewRegistry(specs []Spec) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider, len(specs)),
		now:       time.Now,
	}
	r.resetDate.Store(utcDate(time.Now()))

	for _, s := range specs {
		p := &Provider{
			Name:         s.Name,
			CostPerCall:  s.CostPerCall,
			PriorityRank: s.PriorityRank,
			callQuota:    s.CallQuota,
		}
		p.tier.Store(s.Tier)
		p.enabled.Store(s.Enabled && s.Tier != TierDisabled)
		r.providers[s.Name] = p
		r.ordered = append(r.ordered, p)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].PriorityRank != r.ordered[j].PriorityRank {
			return r.ordered[i].PriorityRank < r.ordered[j].PriorityRank
		}
		return r.ordered[i].CostPerCall < r.ordered[j].CostPerCall
	})
	return r
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// checkReset zeroes usage counters when the UTC date has rolled over. The
// check runs on access rather than from a timer so a restart spanning
// midnight still starts a fresh window.
func (r *Registry) checkReset() {
	today := utcDate(r.now())
	if r.resetDate.Load().(string) == today {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resetDate.Load().(string) == today {
		return
	}
	for _, p := range r.providers {
		p.callsUsed.Store(0)
		// Quota-exhausted providers come back at the day boundary.
		p.quotaOut.Store(false)
	}
	r.resetDate.Store(today)
}

// Get returns the provider record for name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns all providers in selection order (priority, then cost).
func (r *Registry) Providers() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// TryAcquireCall atomically consumes one call against the provider's quota.
// For free-tier providers the increment only happens if the result stays
// within quota; a provider found at quota is disabled and the error returned.
// Premium providers are not quota-counted beyond usage tracking.
func (r *Registry) TryAcquireCall(name string) error {
	r.checkReset()

	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}

	if p.Tier() != TierFree {
		p.callsUsed.Add(1)
		return nil
	}

	for {
		used := p.callsUsed.Load()
		if used >= p.callQuota {
			p.quotaOut.Store(true)
			return &QuotaExhaustedError{Provider: name, Used: used, Quota: p.callQuota}
		}
		if p.callsUsed.CompareAndSwap(used, used+1) {
			return nil
		}
	}
}

// ReleaseCall returns a consumed call after a fetch that never completed.
func (r *Registry) ReleaseCall(name string) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	for {
		used := p.callsUsed.Load()
		if used <= 0 {
			return
		}
		if p.callsUsed.CompareAndSwap(used, used-1) {
			// An auto-disabled free provider regains headroom.
			if p.Tier() == TierFree {
				p.quotaOut.Store(false)
			}
			return
		}
	}
}

// SetEnabled flips the operator enable flag for a provider.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		p.enabled.Store(enabled && p.Tier() != TierDisabled)
	}
}

// DisableTier disables every provider of the given tier (budget pressure
// turns premium providers off proactively).
func (r *Registry) DisableTier(tier Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var disabled []string
	for _, p := range r.ordered {
		if p.Tier() == tier && p.enabled.Load() {
			p.enabled.Store(false)
			disabled = append(disabled, p.Name)
		}
	}
	return disabled
}

// Status returns a snapshot of every provider in selection order.
func (r *Registry) Status() []ProviderStatus {
	r.checkReset()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.ordered))
	for _, p := range r.ordered {
		out = append(out, ProviderStatus{
			Name:         p.Name,
			Tier:         p.Tier(),
			Enabled:      p.Enabled(),
			CallsUsed:    p.callsUsed.Load(),
			CallQuota:    p.callQuota,
			CostPerCall:  p.CostPerCall,
			PriorityRank: p.PriorityRank,
		})
	}
	return out
}
