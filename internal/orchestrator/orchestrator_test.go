package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/findash/fdp/internal/audit"
	"github.com/findash/fdp/internal/budget"
	"github.com/findash/fdp/internal/circuit"
	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/ops"
	"github.com/findash/fdp/internal/queue"
	"github.com/findash/fdp/internal/tiers"
	"github.com/findash/fdp/internal/worker"
)

type idleHandler struct{}

func (idleHandler) Handle(_ context.Context, _ *queue.Delivery) (worker.Disposition, error) {
	return worker.Disposition{Ack: true, Result: "alerted"}, nil
}

func testOrchestrator(t *testing.T, cfg config.Config) (*Orchestrator, *queue.Memory, *tiers.Registry) {
	t.Helper()

	q := queue.NewMemory(queue.Options{
		MaxLen:            1000,
		VisibilityTimeout: time.Minute,
		MaxAttempts:       3,
		PollBlock:         10 * time.Millisecond,
	})
	registry := tiers.NewRegistry([]tiers.Spec{
		{Name: "alpha", Tier: tiers.TierFree, CallQuota: 100, PriorityRank: 1, Enabled: true},
		{Name: "gamma", Tier: tiers.TierPremium, CostPerCall: 0.01, PriorityRank: 2, Enabled: true},
	})
	circuits := circuit.NewManager(circuit.Config{FailureThreshold: 5, Cooldown: time.Minute})
	ledger := budget.NewMemoryLedger(cfg.Budget.DailyCap)
	kill := ops.NewKillSwitch(cfg.KillSwitchFile, 20*time.Millisecond)
	store := audit.NewNopStore(cfg.Universe)
	pool := worker.NewPool(q, idleHandler{}, cfg.Workers, nil)

	return New(config.NewStore("", cfg), q, pool, registry, circuits, ledger, kill, store, metrics.NewRegistry()), q, registry
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Universe = []string{"AAPL", "MSFT", "NVDA"}
	cfg.KillSwitchFile = filepath.Join(t.TempDir(), "STOP")
	cfg.SeedSpacing = 0
	cfg.RefreshCycle = time.Hour
	cfg.ShutdownWindow = time.Second
	cfg.Workers.Count = 2
	cfg.Workers.MinCount = 1
	cfg.Workers.IdleTimeout = 0 // workers stay alive while idle
	cfg.Workers.JobTimeout = time.Second
	return cfg
}

func TestSeed_EnqueuesUniverse(t *testing.T) {
	o, q, _ := testOrchestrator(t, testConfig(t))

	o.seed(context.Background())

	n, _ := q.Len(context.Background())
	if n != 3 {
		t.Errorf("queue len = %d, want 3", n)
	}
}

func TestSeed_SkippedWhileKillSwitchEngaged(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.KillSwitchFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	o, q, _ := testOrchestrator(t, cfg)

	o.seed(context.Background())

	n, _ := q.Len(context.Background())
	if n != 0 {
		t.Errorf("queue len = %d while killed, want 0", n)
	}
}

func TestSeed_CapsAtMaxTickers(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxTickers = 2
	o, q, _ := testOrchestrator(t, cfg)

	o.seed(context.Background())

	n, _ := q.Len(context.Background())
	if n != 2 {
		t.Errorf("queue len = %d, want 2 (capped)", n)
	}
}

func TestBudgetPosture_DisablesPremiumAndThrottles(t *testing.T) {
	cfg := testConfig(t)
	o, _, registry := testOrchestrator(t, cfg)

	o.applyBudgetPosture(budget.Snapshot{
		Date: "2026-08-30", Spent: 4.8, DailyCap: 5.0, Headroom: 0.2,
	})

	if !o.throttled.Load() {
		t.Error("not throttled under low headroom")
	}
	if o.seedInterval() != 2*cfg.RefreshCycle {
		t.Errorf("seed interval = %v, want stretched %v", o.seedInterval(), 2*cfg.RefreshCycle)
	}
	p, _ := registry.Get("gamma")
	if p.Enabled() {
		t.Error("premium provider still enabled under budget pressure")
	}
	free, _ := registry.Get("alpha")
	if !free.Enabled() {
		t.Error("free provider should stay enabled")
	}

	// A fresh day restores headroom; posture reverts.
	o.applyBudgetPosture(budget.Snapshot{
		Date: "2026-08-31", Spent: 0, DailyCap: 5.0, Headroom: 5.0,
	})
	if o.throttled.Load() {
		t.Error("still throttled after headroom restored")
	}
	if !p.Enabled() {
		t.Error("premium provider not re-enabled")
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Universe = []string{"AAPL"}
	o, _, _ := testOrchestrator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if o.pool.Active() != 0 {
		t.Errorf("active workers = %d after shutdown", o.pool.Active())
	}
}

func TestRun_KillSwitchTriggersShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Universe = []string{"AAPL"}
	o, _, _ := testOrchestrator(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(cfg.KillSwitchFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after kill switch engaged")
	}
	if o.pool.Active() != 0 {
		t.Errorf("active workers = %d after kill switch shutdown", o.pool.Active())
	}
}

func TestRun_KillSwitchEngagedAtStartup(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.KillSwitchFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	o, q, _ := testOrchestrator(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit with kill switch present at startup")
	}
	n, _ := q.Len(context.Background())
	if n != 0 {
		t.Errorf("queue len = %d, want 0 (no seeding before shutdown)", n)
	}
}
