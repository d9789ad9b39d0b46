// Package queue delivers ticker-refresh jobs to workers with consumer-group,
// at-least-once semantics: a dequeued job stays pending (invisible to other
// consumers) until acknowledged, and becomes redeliverable once its
// visibility timeout elapses. Jobs past the max-attempts threshold move to a
// dead-letter sink instead of retrying forever.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoJob is returned when no job became available within the poll block.
	ErrNoJob = errors.New("no job available")
)

// Job is one unit of work: refresh market data for a single ticker.
// (Ticker, EnqueueEpoch) identifies the job across redeliveries.
type Job struct {
	ID           string    `json:"id"`
	Ticker       string    `json:"ticker"`
	RequestedAt  time.Time `json:"requested_at"`
	EnqueueEpoch int64     `json:"enqueue_epoch"`
}

// NewJob creates a job for the given ticker within a seeding epoch.
func NewJob(ticker string, epoch int64) Job {
	return Job{
		ID:           uuid.NewString(),
		Ticker:       ticker,
		RequestedAt:  time.Now().UTC(),
		EnqueueEpoch: epoch,
	}
}

// Delivery is a claimed job held by exactly one consumer until acked or
// its visibility timeout elapses.
type Delivery struct {
	Job       Job
	MessageID string
	Consumer  string
	// Attempt is the delivery count including this one.
	Attempt int64
}

// PendingEntry describes an unacknowledged delivery, for stuck-job alerting.
type PendingEntry struct {
	MessageID string        `json:"message_id"`
	Consumer  string        `json:"consumer"`
	Idle      time.Duration `json:"idle"`
	Attempts  int64         `json:"attempts"`
}

// DeadLetterFunc is invoked exactly once per job moved to the dead-letter
// sink, before the job leaves the redelivery path.
type DeadLetterFunc func(ctx context.Context, job Job, attempts int64)

// Options tunes queue behavior shared by all implementations.
type Options struct {
	// MaxLen caps the queue; oldest entries are trimmed past it.
	MaxLen int64
	// VisibilityTimeout is how long a delivery may stay unacked before it
	// becomes redeliverable.
	VisibilityTimeout time.Duration
	// MaxAttempts is the delivery count past which a job is dead-lettered.
	MaxAttempts int64
	// PollBlock bounds how long Dequeue blocks waiting for a job.
	PollBlock time.Duration
	// OnDeadLetter, when set, observes dead-lettered jobs.
	OnDeadLetter DeadLetterFunc
}

func (o *Options) applyDefaults() {
	if o.MaxLen <= 0 {
		o.MaxLen = 10000
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 150 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.PollBlock <= 0 {
		o.PollBlock = time.Second
	}
}

// Queue is the durable work queue contract.
type Queue interface {
	// Enqueue appends a job. Past MaxLen the oldest entries are trimmed.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue delivers the next job to the calling consumer, preferring
	// redelivery of timed-out pending jobs. Returns ErrNoJob when nothing
	// became available within the poll block.
	Dequeue(ctx context.Context, consumer string) (*Delivery, error)
	// Ack permanently removes a delivered job.
	Ack(ctx context.Context, d *Delivery) error
	// Pending lists unacknowledged deliveries.
	Pending(ctx context.Context) ([]PendingEntry, error)
	// Len returns the number of entries currently retained.
	Len(ctx context.Context) (int64, error)
}
