package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/market"
)

// Outcome classifies how a pipeline run ended. Every outcome is terminal for
// its job; only errors leave the job eligible for redelivery.
type Outcome string

const (
	OutcomeOrdered       Outcome = "ordered"
	OutcomeAlerted       Outcome = "alerted"
	OutcomeLowConfidence Outcome = "low_confidence"
	OutcomeBlocked       Outcome = "blocked"
)

// Result is the final pipeline verdict for one job.
type Result struct {
	Outcome   Outcome   `json:"outcome"`
	Signal    Signal    `json:"signal"`
	Order     Order     `json:"order,omitempty"`
	Placement Placement `json:"placement,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Pipeline chains model, risk, and broker for a fetched series.
type Pipeline struct {
	model  SignalModel
	risk   RiskManager
	broker Broker

	mode          config.ExecutionMode
	minConfidence float64
}

// NewPipeline wires the stages. Alert-only mode skips risk and broker
// entirely.
func NewPipeline(model SignalModel, risk RiskManager, broker Broker, mode config.ExecutionMode, minConfidence float64) *Pipeline {
	return &Pipeline{
		model:         model,
		risk:          risk,
		broker:        broker,
		mode:          mode,
		minConfidence: minConfidence,
	}
}

// Run evaluates a series end to end. jobKey deduplicates order placement
// across redeliveries of the same job.
func (p *Pipeline) Run(ctx context.Context, jobKey string, series *market.OHLCV) (Result, error) {
	signal, err := p.model.Evaluate(ctx, series)
	if err != nil {
		return Result{}, fmt.Errorf("model: %w", err)
	}

	if signal.Confidence < p.minConfidence {
		log.Debug().
			Str("ticker", signal.Ticker).
			Float64("confidence", signal.Confidence).
			Float64("min", p.minConfidence).
			Msg("signal below confidence floor")
		return Result{Outcome: OutcomeLowConfidence, Signal: signal}, nil
	}

	if p.mode == config.ModeAlertOnly {
		log.Info().
			Str("ticker", signal.Ticker).
			Str("direction", string(signal.Direction)).
			Float64("confidence", signal.Confidence).
			Msg("signal alert")
		return Result{Outcome: OutcomeAlerted, Signal: signal}, nil
	}

	account, err := p.broker.AccountSummary(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("account: %w", err)
	}

	order, err := p.risk.Size(ctx, signal, account)
	if err != nil {
		var blocked *BlockError
		if errors.As(err, &blocked) {
			log.Info().
				Str("ticker", signal.Ticker).
				Str("reason", blocked.Reason).
				Msg("order blocked by risk")
			return Result{Outcome: OutcomeBlocked, Signal: signal, Reason: blocked.Reason}, nil
		}
		return Result{}, fmt.Errorf("risk: %w", err)
	}

	placement, err := p.broker.PlaceOrder(ctx, jobKey, order)
	if err != nil {
		return Result{}, fmt.Errorf("broker: %w", err)
	}

	return Result{Outcome: OutcomeOrdered, Signal: signal, Order: order, Placement: placement}, nil
}
