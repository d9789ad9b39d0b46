// Package worker runs the consumer pool over the durable queue. Each worker
// loops dequeue, process, acknowledge; disposition of a job (ack or leave
// for redelivery) is the handler's call.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/queue"
)

// Disposition tells the pool what to do with a processed delivery.
type Disposition struct {
	// Ack marks the job terminal. Unacked jobs return via the visibility
	// timeout.
	Ack bool
	// Result labels the outcome for metrics and logs.
	Result string
}

// Handler processes one delivery.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) (Disposition, error)
}

// Pool owns the worker goroutines.
type Pool struct {
	queue   queue.Queue
	handler Handler
	cfg     config.WorkerConfig
	metrics *metrics.Registry

	wg       sync.WaitGroup
	active   atomic.Int64
	nextID   atomic.Int64
	started  atomic.Bool
	draining atomic.Bool
}

// NewPool creates a pool. Start launches the workers.
func NewPool(q queue.Queue, handler Handler, cfg config.WorkerConfig, m *metrics.Registry) *Pool {
	return &Pool{queue: q, handler: handler, cfg: cfg, metrics: m}
}

// Start launches the configured worker count. It is a no-op when called
// twice.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.Spawn(ctx, p.cfg.Count)
}

// Spawn adds n workers to the pool.
func (p *Pool) Spawn(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		id := p.nextID.Add(1)
		p.wg.Add(1)
		go p.run(ctx, fmt.Sprintf("worker-%d", id))
	}
}

// Active returns the number of running workers.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Drain tells workers to exit at the next loop boundary. Jobs already in
// flight run to completion; no new jobs are dequeued.
func (p *Pool) Drain() {
	p.draining.Store(true)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, consumer string) {
	defer p.wg.Done()
	p.active.Add(1)
	defer p.active.Add(-1)
	if p.metrics != nil {
		p.metrics.WorkersActive.Inc()
		defer p.metrics.WorkersActive.Dec()
	}

	log.Debug().Str("consumer", consumer).Msg("worker started")
	idleSince := time.Time{}

	for {
		if ctx.Err() != nil || p.draining.Load() {
			log.Debug().Str("consumer", consumer).Msg("worker stopping")
			return
		}

		d, err := p.queue.Dequeue(ctx, consumer)
		if err != nil {
			if errors.Is(err, queue.ErrNoJob) {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if p.cfg.IdleTimeout > 0 && time.Since(idleSince) >= p.cfg.IdleTimeout {
					log.Debug().Str("consumer", consumer).Msg("worker idle, exiting")
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("consumer", consumer).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		idleSince = time.Time{}

		p.process(ctx, consumer, d)
	}
}

// process runs the handler under the per-job deadline with panic isolation.
// A panic counts as a failure and the job stays unacked for redelivery.
func (p *Pool) process(ctx context.Context, consumer string, d *queue.Delivery) {
	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("consumer", consumer).
				Str("ticker", d.Job.Ticker).
				Int64("attempt", d.Attempt).
				Bytes("stack", debug.Stack()).
				Msg("job handler panicked")
			if p.metrics != nil {
				p.metrics.JobsProcessed.WithLabelValues("panic").Inc()
			}
		}
	}()

	disp, err := p.handler.Handle(jobCtx, d)
	if err != nil {
		log.Warn().Err(err).
			Str("consumer", consumer).
			Str("ticker", d.Job.Ticker).
			Int64("attempt", d.Attempt).
			Msg("job failed, leaving for redelivery")
		if p.metrics != nil {
			result := disp.Result
			if result == "" {
				result = "error"
			}
			p.metrics.JobsProcessed.WithLabelValues(result).Inc()
		}
		return
	}

	if disp.Ack {
		if ackErr := p.queue.Ack(ctx, d); ackErr != nil {
			log.Error().Err(ackErr).
				Str("message_id", d.MessageID).
				Msg("ack failed, job may redeliver")
		}
	}
	if p.metrics != nil && disp.Result != "" {
		p.metrics.JobsProcessed.WithLabelValues(disp.Result).Inc()
	}
	log.Debug().
		Str("ticker", d.Job.Ticker).
		Str("result", disp.Result).
		Bool("acked", disp.Ack).
		Msg("job processed")
}
