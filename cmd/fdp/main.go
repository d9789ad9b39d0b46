package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "fdp"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Tiered multi-provider market data acquisition service",
		Version: version,
		Long: `fdp acquires OHLCV market data across tiered providers under a daily
budget, with circuit-breaking failover, a durable work queue, and a
signal pipeline downstream of the quality gate.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full acquisition orchestrator",
		Long:  "Seeds the ticker universe each refresh cycle and processes jobs with the worker pool until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(configPath)
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Enqueue one refresh cycle and exit",
		Long:  "Loads the ticker universe and enqueues one job per ticker without starting workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(configPath)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print a status snapshot",
		Long:  "Queries the /status endpoint of a running instance and prints the JSON snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runStatus(addr)
		},
	}
	statusCmd.Flags().String("addr", "http://localhost:8000", "Base URL of the running instance")

	rootCmd.AddCommand(runCmd, seedCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
