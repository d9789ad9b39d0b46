package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/audit"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/quality"
	"github.com/findash/fdp/internal/queue"
	"github.com/findash/fdp/internal/selector"
	"github.com/findash/fdp/internal/stages"
)

// Fetcher is the provider failover entry point.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string) (*selector.Result, error)
}

// PipelineHandler is the production job handler: validate the symbol, fetch
// through the failover chain, gate the data, then run the signal pipeline.
type PipelineHandler struct {
	fetcher  Fetcher
	gate     *quality.Gate
	pipeline *stages.Pipeline
	store    audit.Store
	metrics  *metrics.Registry
}

// NewPipelineHandler wires the handler.
func NewPipelineHandler(fetcher Fetcher, gate *quality.Gate, pipeline *stages.Pipeline, store audit.Store, m *metrics.Registry) *PipelineHandler {
	return &PipelineHandler{fetcher: fetcher, gate: gate, pipeline: pipeline, store: store, metrics: m}
}

// Handle processes one delivery. Bad data and risk outcomes are terminal
// (acked); provider exhaustion and stage failures leave the job for
// redelivery.
func (h *PipelineHandler) Handle(ctx context.Context, d *queue.Delivery) (Disposition, error) {
	symbol, err := h.gate.ValidateSymbol(d.Job.Ticker)
	if err != nil {
		h.auditReject(ctx, d, err)
		return Disposition{Ack: true, Result: "quality_rejected"}, nil
	}

	res, err := h.fetcher.Fetch(ctx, symbol)
	if err != nil {
		if errors.Is(err, selector.ErrNoProvider) {
			return Disposition{Result: "no_provider"}, err
		}
		return Disposition{Result: "fetch_error"}, err
	}
	if err := h.gate.ValidateOHLCV(res.Series); err != nil {
		// Terminal bad data: the provider answered, the payload just
		// failed the gate. No circuit penalty, no retry.
		h.auditReject(ctx, d, err)
		return Disposition{Ack: true, Result: "quality_rejected"}, nil
	}

	if err := h.store.Insert(ctx, audit.EventFetchCompleted, map[string]interface{}{
		"ticker":   symbol,
		"provider": res.Provider,
		"bars":     len(res.Series.Bars),
		"cost":     res.Cost,
	}, d.Consumer, d.Job.ID+":fetch"); err != nil {
		log.Warn().Err(err).Str("ticker", symbol).Msg("fetch audit write failed")
	}

	out, err := h.pipeline.Run(ctx, d.Job.ID, res.Series)
	if err != nil {
		return Disposition{Result: "stage_error"}, fmt.Errorf("pipeline: %w", err)
	}

	switch out.Outcome {
	case stages.OutcomeOrdered:
		if err := h.store.Insert(ctx, audit.EventOrderPlaced, out, d.Consumer, d.Job.ID+":order"); err != nil {
			log.Warn().Err(err).Str("ticker", symbol).Msg("order audit write failed")
		}
	case stages.OutcomeBlocked:
		if err := h.store.Insert(ctx, audit.EventOrderBlocked, out, d.Consumer, d.Job.ID+":order"); err != nil {
			log.Warn().Err(err).Str("ticker", symbol).Msg("block audit write failed")
		}
	}

	return Disposition{Ack: true, Result: string(out.Outcome)}, nil
}

func (h *PipelineHandler) auditReject(ctx context.Context, d *queue.Delivery, cause error) {
	err := h.store.Insert(ctx, audit.EventQualityRejected, map[string]interface{}{
		"ticker": d.Job.Ticker,
		"reason": cause.Error(),
	}, d.Consumer, d.Job.ID+":quality")
	if err != nil {
		log.Warn().Err(err).Str("ticker", d.Job.Ticker).Msg("quality audit write failed")
	}
}
