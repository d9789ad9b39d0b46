package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/audit"
	"github.com/findash/fdp/internal/budget"
	"github.com/findash/fdp/internal/circuit"
	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/httpapi"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/ops"
	"github.com/findash/fdp/internal/orchestrator"
	"github.com/findash/fdp/internal/providers"
	"github.com/findash/fdp/internal/quality"
	"github.com/findash/fdp/internal/queue"
	"github.com/findash/fdp/internal/ratelimit"
	"github.com/findash/fdp/internal/selector"
	"github.com/findash/fdp/internal/stages"
	"github.com/findash/fdp/internal/tiers"
	"github.com/findash/fdp/internal/worker"
)

// app bundles everything the run command wires together.
type app struct {
	cfg      *config.Store
	redis    redis.UniversalClient
	queue    queue.Queue
	ledger   budget.Ledger
	registry *tiers.Registry
	circuits *circuit.Manager
	store    audit.Store
	kill     *ops.KillSwitch
	metrics  *metrics.Registry
	orch     *orchestrator.Orchestrator
	api      *httpapi.Server
}

func buildApp(ctx context.Context, configPath string, cfg config.Config) (*app, error) {
	a := &app{cfg: config.NewStore(configPath, cfg), metrics: metrics.NewRegistry()}

	if cfg.DatabaseURL != "" {
		store, err := audit.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.store = store
	} else {
		log.Warn().Msg("no database configured, audit trail disabled")
		a.store = audit.NewNopStore(cfg.Universe)
	}

	onDeadLetter := func(ctx context.Context, job queue.Job, attempts int64) {
		a.metrics.DeadLettered.Inc()
		err := a.store.Insert(ctx, audit.EventJobDeadLettered, map[string]interface{}{
			"ticker":   job.Ticker,
			"attempts": attempts,
			"epoch":    job.EnqueueEpoch,
		}, "queue", job.ID+":dead")
		if err != nil {
			log.Warn().Err(err).Str("ticker", job.Ticker).Msg("dead-letter audit write failed")
		}
	}

	qopts := queue.Options{
		MaxLen:            cfg.Queue.MaxLen,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		PollBlock:         cfg.Queue.PollBlock,
		OnDeadLetter:      onDeadLetter,
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = rdb

		stream, err := queue.NewStream(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.DeadLetterStream, qopts)
		if err != nil {
			return nil, err
		}
		a.queue = stream
		a.ledger = budget.NewRedisLedger(rdb, cfg.Budget.DailyCap, cfg.Budget.WarnThreshold)
	} else {
		log.Warn().Msg("no redis configured, using in-process queue and ledger")
		a.queue = queue.NewMemory(qopts)
		a.ledger = budget.NewMemoryLedger(cfg.Budget.DailyCap)
	}

	specs := make([]tiers.Spec, 0, len(cfg.Providers))
	limits := ratelimit.NewManager()
	adapters := make(map[string]providers.Provider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		specs = append(specs, tiers.Spec{
			Name:         pc.Name,
			Tier:         tiers.Tier(pc.Tier),
			CallQuota:    pc.CallQuota,
			CostPerCall:  pc.CostPerCall,
			PriorityRank: pc.PriorityRank,
			Enabled:      pc.Enabled,
		})
		if pc.RPS > 0 {
			limits.AddProvider(pc.Name, pc.RPS, pc.Burst, pc.MaxInFlight)
		}
		adapter, err := providers.New(pc.Name, providers.Options{BaseURL: pc.BaseURL, APIKey: pc.APIKey, Timeout: cfg.FetchTimeout})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		adapters[pc.Name] = adapter
	}
	a.registry = tiers.NewRegistry(specs)
	a.circuits = circuit.NewManager(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         cfg.Circuit.Cooldown,
	})

	sel := selector.New(a.registry, a.circuits, limits, a.ledger, adapters)
	sel.SetMetrics(a.metrics)

	// Live order routing is out of scope; live mode trades against the
	// simulated broker like paper mode does.
	if cfg.ExecutionMode == config.ModeLive {
		log.Warn().Msg("live mode uses the simulated broker")
	}
	pipeline := stages.NewPipeline(
		stages.NewMomentumModel(),
		stages.NewKellyRisk(cfg.Stages.KellyFraction, cfg.Stages.MaxPositionPercent),
		stages.NewPaperBroker(cfg.Stages.PaperCapital),
		cfg.ExecutionMode,
		cfg.Stages.MinConfidence,
	)

	gate := quality.NewGate(quality.DefaultConfig())
	handler := worker.NewPipelineHandler(sel, gate, pipeline, a.store, a.metrics)
	pool := worker.NewPool(a.queue, handler, cfg.Workers, a.metrics)

	a.kill = ops.NewKillSwitch(cfg.KillSwitchFile, 2*time.Second)
	a.orch = orchestrator.New(a.cfg, a.queue, pool, a.registry, a.circuits, a.ledger, a.kill, a.store, a.metrics)
	a.api = httpapi.New(cfg, a.redis, a.store, a.registry, a.circuits, a.ledger, a.queue, a.kill, a.metrics)
	return a, nil
}

func runOrchestrator(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	// SIGHUP re-reads the config file; the orchestrator picks up universe
	// and cadence changes at the next cycle.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := a.cfg.Reload(); err != nil {
				log.Error().Err(err).Msg("config reload failed, keeping current")
			}
		}
	}()

	go func() {
		if err := a.api.Serve(ctx, cfg.ListenAddr); err != nil {
			log.Error().Err(err).Msg("http api failed")
		}
	}()

	log.Info().
		Str("mode", string(cfg.ExecutionMode)).
		Int("workers", cfg.Workers.Count).
		Int("providers", len(cfg.Providers)).
		Msg("orchestrator starting")
	return a.orch.Run(ctx)
}

func runSeed(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := buildApp(ctx, configPath, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	universe, err := a.store.Universe(ctx, cfg.MaxTickers)
	if err != nil || len(universe) == 0 {
		universe = cfg.Universe
	}
	if cfg.MaxTickers > 0 && len(universe) > cfg.MaxTickers {
		universe = universe[:cfg.MaxTickers]
	}

	epoch := time.Now().UTC().Unix()
	seeded := 0
	for _, ticker := range universe {
		if err := a.queue.Enqueue(ctx, queue.NewJob(ticker, epoch)); err != nil {
			log.Error().Err(err).Str("ticker", ticker).Msg("enqueue failed")
			continue
		}
		seeded++
	}
	fmt.Printf("seeded %d jobs (epoch %d)\n", seeded, epoch)
	return nil
}

func runStatus(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body)
	}

	var snapshot map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
