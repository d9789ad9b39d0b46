// Package orchestrator drives the acquisition loop: seed the universe into
// the queue each refresh cycle, keep the worker pool at strength, and react
// to the kill switch and budget pressure.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

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

const supervisorInterval = 5 * time.Second

// Orchestrator owns the run loop. Per-cycle settings (universe, cadence,
// budget posture) are re-read from the config store each pass so a reload
// takes effect at the next cycle without a restart.
type Orchestrator struct {
	cfg      *config.Store
	queue    queue.Queue
	pool     *worker.Pool
	registry *tiers.Registry
	circuits *circuit.Manager
	ledger   budget.Ledger
	kill     *ops.KillSwitch
	store    audit.Store
	metrics  *metrics.Registry

	epoch           atomic.Int64
	throttled       atomic.Bool
	premiumDisabled atomic.Bool
}

// New wires the orchestrator. The pool must not be started yet.
func New(cfg *config.Store, q queue.Queue, pool *worker.Pool, registry *tiers.Registry, circuits *circuit.Manager, ledger budget.Ledger, kill *ops.KillSwitch, store audit.Store, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		queue:    q,
		pool:     pool,
		registry: registry,
		circuits: circuits,
		ledger:   ledger,
		kill:     kill,
		store:    store,
		metrics:  m,
	}
}

// Run blocks until ctx is cancelled or the kill switch engages, then drains
// workers within the shutdown window. Unacknowledged jobs stay queued for the
// next run.
func (o *Orchestrator) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	o.pool.Start(workerCtx)
	kills := o.kill.Subscribe()
	go o.kill.Watch(ctx)

	if o.kill.Engaged() {
		log.Warn().Msg("kill switch engaged at startup, shutting down")
		o.auditKillSwitch(ctx, true)
		return o.shutdown(stopWorkers)
	}

	// First seed immediately; later seeds on the refresh cycle, stretched
	// under budget pressure.
	o.seed(ctx)

	seedTimer := time.NewTimer(o.seedInterval())
	defer seedTimer.Stop()
	supervisor := time.NewTicker(supervisorInterval)
	defer supervisor.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown(stopWorkers)

		case <-seedTimer.C:
			o.seed(ctx)
			seedTimer.Reset(o.seedInterval())

		case engaged := <-kills:
			o.auditKillSwitch(ctx, engaged)
			if engaged {
				log.Warn().Msg("kill switch engaged, shutting down")
				return o.shutdown(stopWorkers)
			}

		case <-supervisor.C:
			o.supervise(ctx, workerCtx)
		}
	}
}

func (o *Orchestrator) config() config.Config {
	return o.cfg.Current().Config
}

// seedInterval stretches the refresh cycle while budget headroom is low.
func (o *Orchestrator) seedInterval() time.Duration {
	cycle := o.config().RefreshCycle
	if o.throttled.Load() {
		return 2 * cycle
	}
	return cycle
}

// seed enqueues one job per universe ticker under a fresh epoch. Seeding is
// skipped entirely while the kill switch is engaged.
func (o *Orchestrator) seed(ctx context.Context) {
	if o.kill.Engaged() {
		log.Warn().Msg("kill switch engaged, skipping seed cycle")
		return
	}

	cfg := o.config()
	universe, err := o.store.Universe(ctx, cfg.MaxTickers)
	if err != nil {
		log.Error().Err(err).Msg("universe load failed, falling back to static list")
		universe = cfg.Universe
	}
	if len(universe) == 0 {
		universe = cfg.Universe
	}
	if cfg.MaxTickers > 0 && len(universe) > cfg.MaxTickers {
		universe = universe[:cfg.MaxTickers]
	}

	epoch := o.epoch.Add(1)
	seeded := 0
	for _, ticker := range universe {
		if ctx.Err() != nil {
			return
		}
		if err := o.queue.Enqueue(ctx, queue.NewJob(ticker, epoch)); err != nil {
			log.Error().Err(err).Str("ticker", ticker).Msg("enqueue failed")
			continue
		}
		seeded++
		if cfg.SeedSpacing > 0 {
			select {
			case <-time.After(cfg.SeedSpacing):
			case <-ctx.Done():
				return
			}
		}
	}
	log.Info().Int64("epoch", epoch).Int("seeded", seeded).Msg("universe seeded")
}

// supervise runs the periodic health pass: worker respawn, budget posture,
// and gauge refresh.
func (o *Orchestrator) supervise(ctx context.Context, workerCtx context.Context) {
	if !o.kill.Engaged() {
		if deficit := o.config().Workers.MinCount - o.pool.Active(); deficit > 0 {
			log.Info().Int("respawn", deficit).Msg("replenishing worker pool")
			o.pool.Spawn(workerCtx, deficit)
		}
	}

	snap, err := o.ledger.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("budget snapshot failed")
	} else {
		o.applyBudgetPosture(snap)
		if o.metrics != nil {
			o.metrics.BudgetSpent.Set(snap.Spent)
		}
	}

	if o.metrics != nil {
		if pending, err := o.queue.Pending(ctx); err == nil {
			o.metrics.QueuePending.Set(float64(len(pending)))
		}
		for provider, st := range o.circuits.Status() {
			o.metrics.CircuitState.WithLabelValues(provider).Set(circuitGaugeValue(st.State))
		}
	}
}

func circuitGaugeValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// applyBudgetPosture throttles seeding and disables premium providers when
// headroom drops below the configured threshold, and restores both once
// headroom returns (a new UTC day).
func (o *Orchestrator) applyBudgetPosture(snap budget.Snapshot) {
	low := snap.HeadroomFraction() < o.config().Budget.HeadroomThreshold

	if low && !o.throttled.Swap(true) {
		log.Warn().
			Float64("spent", snap.Spent).
			Float64("cap", snap.DailyCap).
			Msg("budget headroom low, stretching seed cadence")
	}
	if !low && o.throttled.Swap(false) {
		log.Info().Msg("budget headroom restored, normal seed cadence")
	}

	if low && !o.premiumDisabled.Swap(true) {
		disabled := o.registry.DisableTier(tiers.TierPremium)
		if len(disabled) > 0 {
			log.Warn().Strs("providers", disabled).Msg("premium providers disabled under budget pressure")
		}
	}
	if !low && o.premiumDisabled.Swap(false) {
		for _, p := range o.registry.Providers() {
			if p.Tier() == tiers.TierPremium {
				o.registry.SetEnabled(p.Name, true)
			}
		}
		log.Info().Msg("premium providers re-enabled")
	}
}

func (o *Orchestrator) auditKillSwitch(ctx context.Context, engaged bool) {
	err := o.store.Insert(ctx, audit.EventKillSwitch, map[string]interface{}{
		"engaged": engaged,
		"at":      time.Now().UTC(),
	}, "orchestrator", killSwitchDedupKey(engaged))
	if err != nil {
		log.Warn().Err(err).Msg("kill switch audit write failed")
	}
}

func killSwitchDedupKey(engaged bool) string {
	// One event per flip direction per second is enough resolution.
	return "kill:" + time.Now().UTC().Format(time.RFC3339) + ":" + boolLabel(engaged)
}

func boolLabel(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// shutdown drains the workers within the shutdown window: in-flight jobs
// finish, no new jobs are taken. Workers still busy past the window are
// hard-cancelled; their unacked jobs redeliver on the next run.
func (o *Orchestrator) shutdown(stopWorkers context.CancelFunc) error {
	window := o.config().ShutdownWindow
	log.Info().Dur("window", window).Msg("shutting down")
	o.pool.Drain()

	done := make(chan struct{})
	go func() {
		o.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all workers drained")
		return nil
	case <-time.After(window):
		log.Warn().Int("abandoned", o.pool.Active()).Msg("shutdown window elapsed, cancelling busy workers")
		stopWorkers()
		return nil
	}
}
