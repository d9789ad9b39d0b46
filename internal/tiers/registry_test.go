package tiers

import (
	"sync"
	"sync/atomic"
	"testing"
)

func testSpecs() []Spec {
	return []Spec{
		{Name: "polygon", Tier: TierPremium, CostPerCall: 0.02, PriorityRank: 1, Enabled: true},
		{Name: "finnhub", Tier: TierFree, CallQuota: 60, PriorityRank: 2, Enabled: true},
		{Name: "yahoo", Tier: TierFree, CallQuota: 2000, PriorityRank: 3, Enabled: true},
	}
}

func TestRegistry_SelectionOrder(t *testing.T) {
	r := NewRegistry(testSpecs())

	providers := r.Providers()
	want := []string{"polygon", "finnhub", "yahoo"}
	for i, name := range want {
		if providers[i].Name != name {
			t.Errorf("position %d: want %s, got %s", i, name, providers[i].Name)
		}
	}
}

func TestRegistry_QuotaNeverExceededUnderRace(t *testing.T) {
	r := NewRegistry([]Spec{
		{Name: "finnhub", Tier: TierFree, CallQuota: 5, PriorityRank: 1, Enabled: true},
	})

	const workers = 20
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.TryAcquireCall("finnhub"); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 5 {
		t.Errorf("quota of 5 with %d racing workers: want 5 grants, got %d", workers, got)
	}

	status := r.Status()[0]
	if status.CallsUsed > status.CallQuota {
		t.Errorf("calls_used %d exceeds quota %d", status.CallsUsed, status.CallQuota)
	}
	if status.Enabled {
		t.Error("provider should be auto-disabled at quota")
	}
}

func TestRegistry_QuotaErrorType(t *testing.T) {
	r := NewRegistry([]Spec{
		{Name: "yahoo", Tier: TierFree, CallQuota: 1, PriorityRank: 1, Enabled: true},
	})

	if err := r.TryAcquireCall("yahoo"); err != nil {
		t.Fatalf("first call within quota: %v", err)
	}
	err := r.TryAcquireCall("yahoo")
	if err == nil {
		t.Fatal("second call should exceed quota")
	}
	if _, ok := err.(*QuotaExhaustedError); !ok {
		t.Errorf("want *QuotaExhaustedError, got %T: %v", err, err)
	}
}

func TestRegistry_PremiumNotQuotaBound(t *testing.T) {
	r := NewRegistry([]Spec{
		{Name: "polygon", Tier: TierPremium, PriorityRank: 1, Enabled: true},
	})

	for i := 0; i < 100; i++ {
		if err := r.TryAcquireCall("polygon"); err != nil {
			t.Fatalf("premium call %d: %v", i, err)
		}
	}
	if used := r.Status()[0].CallsUsed; used != 100 {
		t.Errorf("premium usage should still be tracked, got %d", used)
	}
}

func TestRegistry_ReleaseCallRestoresHeadroom(t *testing.T) {
	r := NewRegistry([]Spec{
		{Name: "finnhub", Tier: TierFree, CallQuota: 1, PriorityRank: 1, Enabled: true},
	})

	if err := r.TryAcquireCall("finnhub"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r.ReleaseCall("finnhub")

	if err := r.TryAcquireCall("finnhub"); err != nil {
		t.Errorf("acquire after release should succeed: %v", err)
	}
}

func TestRegistry_SetEnabled(t *testing.T) {
	r := NewRegistry(testSpecs())

	r.SetEnabled("polygon", false)
	p, _ := r.Get("polygon")
	if p.Enabled() {
		t.Error("polygon should be disabled by operator")
	}

	r.SetEnabled("polygon", true)
	if !p.Enabled() {
		t.Error("polygon should be re-enabled")
	}
}

func TestRegistry_DisableTier(t *testing.T) {
	r := NewRegistry(testSpecs())

	disabled := r.DisableTier(TierPremium)
	if len(disabled) != 1 || disabled[0] != "polygon" {
		t.Errorf("want [polygon] disabled, got %v", disabled)
	}
	p, _ := r.Get("finnhub")
	if !p.Enabled() {
		t.Error("free providers must be untouched by premium disable")
	}
}
