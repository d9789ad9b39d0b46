package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Stream is the Redis Streams queue: XADD with a capped length, a consumer
// group for per-consumer delivery, XACK for acknowledgment, XAUTOCLAIM for
// visibility-timeout redelivery and XPENDING for stuck-job inspection.
type Stream struct {
	rdb    redis.UniversalClient
	stream string
	group  string
	dead   string
	opts   Options
}

// NewStream creates the queue and its consumer group (idempotent).
func NewStream(ctx context.Context, rdb redis.UniversalClient, stream, group, deadLetter string, opts Options) (*Stream, error) {
	opts.applyDefaults()

	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Stream{
		rdb:    rdb,
		stream: stream,
		group:  group,
		dead:   deadLetter,
		opts:   opts,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Enqueue appends a job record, trimming the stream approximately at MaxLen.
func (s *Stream) Enqueue(ctx context.Context, job Job) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.opts.MaxLen,
		Approx: true,
		Values: jobValues(job),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Ticker, err)
	}
	return nil
}

func jobValues(job Job) map[string]interface{} {
	return map[string]interface{}{
		"id":           job.ID,
		"ticker":       job.Ticker,
		"requested_at": job.RequestedAt.Format(time.RFC3339Nano),
		"epoch":        strconv.FormatInt(job.EnqueueEpoch, 10),
	}
}

func jobFromValues(values map[string]interface{}) Job {
	job := Job{}
	if v, ok := values["id"].(string); ok {
		job.ID = v
	}
	if v, ok := values["ticker"].(string); ok {
		job.Ticker = v
	}
	if v, ok := values["requested_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.RequestedAt = ts
		}
	}
	if v, ok := values["epoch"].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.EnqueueEpoch = n
		}
	}
	return job
}

// Dequeue first reclaims a timed-out pending entry for this consumer, then
// falls back to reading new entries, blocking up to PollBlock.
func (s *Stream) Dequeue(ctx context.Context, consumer string) (*Delivery, error) {
	if d, err := s.claimExpired(ctx, consumer); err != nil || d != nil {
		return d, err
	}

	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.opts.PollBlock,
	}).Result()
	if err == redis.Nil {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, ErrNoJob
	}

	msg := res[0].Messages[0]
	return &Delivery{
		Job:       jobFromValues(msg.Values),
		MessageID: msg.ID,
		Consumer:  consumer,
		Attempt:   1,
	}, nil
}

// claimExpired atomically transfers ownership of entries idle past the
// visibility timeout. Entries over the attempt budget are dead-lettered
// here; XAUTOCLAIM's single-claimer guarantee makes that happen exactly once.
func (s *Stream) claimExpired(ctx context.Context, consumer string) (*Delivery, error) {
	for {
		msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  s.opts.VisibilityTimeout,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err == redis.Nil || (err == nil && len(msgs) == 0) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim expired: %w", err)
		}

		msg := msgs[0]
		attempts := s.deliveryCount(ctx, msg.ID)
		job := jobFromValues(msg.Values)

		if attempts > s.opts.MaxAttempts {
			if err := s.deadLetter(ctx, job, msg.ID, attempts); err != nil {
				return nil, err
			}
			continue // look for another claimable entry
		}

		return &Delivery{
			Job:       job,
			MessageID: msg.ID,
			Consumer:  consumer,
			Attempt:   attempts,
		}, nil
	}
}

// deliveryCount reads the retry counter for one pending entry.
func (s *Stream) deliveryCount(ctx context.Context, messageID string) int64 {
	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

// deadLetter moves a job out of the redelivery path.
func (s *Stream) deadLetter(ctx context.Context, job Job, messageID string, attempts int64) error {
	values := jobValues(job)
	values["attempts"] = strconv.FormatInt(attempts, 10)
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dead,
		MaxLen: s.opts.MaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", job.Ticker, err)
	}
	if err := s.rdb.XAck(ctx, s.stream, s.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack dead-lettered %s: %w", job.Ticker, err)
	}

	log.Error().
		Str("ticker", job.Ticker).
		Int64("attempts", attempts).
		Msg("job moved to dead-letter stream")
	if s.opts.OnDeadLetter != nil {
		s.opts.OnDeadLetter(ctx, job, attempts)
	}
	return nil
}

// Ack permanently removes the pending marker for a delivery.
func (s *Stream) Ack(ctx context.Context, d *Delivery) error {
	if err := s.rdb.XAck(ctx, s.stream, s.group, d.MessageID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.Job.Ticker, err)
	}
	return nil
}

// Pending lists unacknowledged deliveries for operational alerting.
func (s *Stream) Pending(ctx context.Context) ([]PendingEntry, error) {
	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}

	out := make([]PendingEntry, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingEntry{
			MessageID: p.ID,
			Consumer:  p.Consumer,
			Idle:      p.Idle,
			Attempts:  p.RetryCount,
		})
	}
	return out, nil
}

// Len returns the number of retained stream entries.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("len: %w", err)
	}
	return n, nil
}
