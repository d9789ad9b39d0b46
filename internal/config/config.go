package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionMode controls whether signals turn into orders.
type ExecutionMode string

const (
	ModeAlertOnly ExecutionMode = "alert_only"
	ModePaper     ExecutionMode = "paper"
	ModeLive      ExecutionMode = "live"
)

// ProviderConfig configures one market-data provider.
type ProviderConfig struct {
	Name         string  `yaml:"name"`
	Tier         string  `yaml:"tier"` // free|premium|disabled
	CallQuota    int64   `yaml:"call_quota"`
	CostPerCall  float64 `yaml:"cost_per_call"`
	PriorityRank int     `yaml:"priority_rank"`
	Enabled      bool    `yaml:"enabled"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
	MaxInFlight  int     `yaml:"max_in_flight"`
}

// QueueConfig configures the durable work queue.
type QueueConfig struct {
	Stream            string        `yaml:"stream"`
	Group             string        `yaml:"group"`
	DeadLetterStream  string        `yaml:"dead_letter_stream"`
	MaxLen            int64         `yaml:"max_len"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxAttempts       int64         `yaml:"max_attempts"`
	PollBlock         time.Duration `yaml:"poll_block"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	Count       int           `yaml:"count"`
	MinCount    int           `yaml:"min_count"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// BudgetConfig configures the daily monetary API budget.
type BudgetConfig struct {
	DailyCap      float64 `yaml:"daily_cap"`
	WarnThreshold float64 `yaml:"warn_threshold"`
	// HeadroomThreshold is the remaining fraction below which the
	// orchestrator throttles enqueue and disables premium providers.
	HeadroomThreshold float64 `yaml:"headroom_threshold"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// StagesConfig configures the downstream signal pipeline.
type StagesConfig struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	KellyFraction      float64 `yaml:"kelly_fraction"`
	MaxPositionPercent float64 `yaml:"max_position_percent"`
	PaperCapital       float64 `yaml:"paper_capital"`
}

// Config is the full application configuration, read once at startup and
// swapped atomically on reload. Fields are never mutated in place.
type Config struct {
	ExecutionMode  ExecutionMode    `yaml:"execution_mode"`
	RedisAddr      string           `yaml:"redis_addr"`
	DatabaseURL    string           `yaml:"database_url"`
	ListenAddr     string           `yaml:"listen_addr"`
	KillSwitchFile string           `yaml:"kill_switch_file"`
	MaxTickers     int              `yaml:"max_tickers"`
	RefreshCycle   time.Duration    `yaml:"refresh_cycle"`
	SeedSpacing    time.Duration    `yaml:"seed_spacing"`
	ShutdownWindow time.Duration    `yaml:"shutdown_window"`
	FetchTimeout   time.Duration    `yaml:"fetch_timeout"`
	Universe       []string         `yaml:"universe"`
	Budget         BudgetConfig     `yaml:"budget"`
	Circuit        CircuitConfig    `yaml:"circuit"`
	Queue          QueueConfig      `yaml:"queue"`
	Workers        WorkerConfig     `yaml:"workers"`
	Stages         StagesConfig     `yaml:"stages"`
	Providers      []ProviderConfig `yaml:"providers"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		ExecutionMode:  ModePaper,
		RedisAddr:      "localhost:6379",
		ListenAddr:     ":8000",
		KillSwitchFile: "data/STOP",
		MaxTickers:     500,
		RefreshCycle:   15 * time.Minute,
		SeedSpacing:    100 * time.Millisecond,
		ShutdownWindow: 30 * time.Second,
		FetchTimeout:   30 * time.Second,
		Budget: BudgetConfig{
			DailyCap:          5.0,
			WarnThreshold:     0.9,
			HeadroomThreshold: 0.1,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		Queue: QueueConfig{
			Stream:            "fdp:jobs",
			Group:             "fdp.workers",
			DeadLetterStream:  "fdp:jobs:dead",
			MaxLen:            10000,
			VisibilityTimeout: 150 * time.Second,
			MaxAttempts:       3,
			PollBlock:         time.Second,
		},
		Workers: WorkerConfig{
			Count:       20,
			MinCount:    4,
			JobTimeout:  120 * time.Second,
			IdleTimeout: 30 * time.Second,
		},
		Stages: StagesConfig{
			MinConfidence:      0.75,
			KellyFraction:      0.25,
			MaxPositionPercent: 2.0,
			PaperCapital:       100000,
		},
	}
}

// Load reads a YAML config file over the defaults and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FDP_EXECUTION_MODE"); v != "" {
		cfg.ExecutionMode = ExecutionMode(v)
	}
	if v := os.Getenv("FDP_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FDP_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("FDP_KILL_SWITCH_FILE"); v != "" {
		cfg.KillSwitchFile = v
	}
	if v := os.Getenv("FDP_DAILY_API_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.DailyCap = f
		}
	}
	if v := os.Getenv("FDP_MAX_TICKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTickers = n
		}
	}
	if v := os.Getenv("FDP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}
}

// Validate checks the configuration for fatal startup errors.
func (c Config) Validate() error {
	switch c.ExecutionMode {
	case ModeAlertOnly, ModePaper, ModeLive:
	default:
		return fmt.Errorf("invalid execution_mode %q", c.ExecutionMode)
	}
	if c.Budget.DailyCap <= 0 {
		return fmt.Errorf("budget daily_cap must be positive, got %v", c.Budget.DailyCap)
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.MinCount > c.Workers.Count {
		return fmt.Errorf("workers min_count %d exceeds count %d", c.Workers.MinCount, c.Workers.Count)
	}
	if c.Queue.VisibilityTimeout <= c.Workers.JobTimeout {
		return fmt.Errorf("queue visibility_timeout %v must exceed job_timeout %v",
			c.Queue.VisibilityTimeout, c.Workers.JobTimeout)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max_attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Tier {
		case "free", "premium", "disabled":
		default:
			return fmt.Errorf("provider %s: invalid tier %q", p.Name, p.Tier)
		}
		if p.Tier == "free" && p.CallQuota <= 0 {
			return fmt.Errorf("provider %s: free tier requires a positive call_quota", p.Name)
		}
		if p.CostPerCall < 0 {
			return fmt.Errorf("provider %s: negative cost_per_call", p.Name)
		}
	}
	return nil
}
