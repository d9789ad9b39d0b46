package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		MaxLen:            100,
		VisibilityTimeout: time.Minute,
		MaxAttempts:       3,
		PollBlock:         20 * time.Millisecond,
	}
}

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestMemory_EnqueueDequeueAck(t *testing.T) {
	q := NewMemory(testOptions())
	ctx := context.Background()

	job := NewJob("AAPL", 1)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d, err := q.Dequeue(ctx, "worker-1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if d.Job.Ticker != "AAPL" || d.Attempt != 1 {
		t.Errorf("unexpected delivery %+v", d)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("queue should be empty after ack, got %d", n)
	}
}

func TestMemory_PendingInvisibleToOthers(t *testing.T) {
	q := NewMemory(testOptions())
	ctx := context.Background()

	q.Enqueue(ctx, NewJob("MSFT", 1))
	d1, err := q.Dequeue(ctx, "worker-1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// The pending job must not be delivered to a second consumer.
	if _, err := q.Dequeue(ctx, "worker-2"); err != ErrNoJob {
		t.Errorf("pending job delivered twice concurrently, err=%v", err)
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].Consumer != d1.Consumer {
		t.Errorf("want one pending entry for %s, got %+v", d1.Consumer, pending)
	}
}

func TestMemory_RedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := NewMemory(testOptions())
	now, clock := fakeClock(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	q.SetClock(clock)
	ctx := context.Background()

	q.Enqueue(ctx, NewJob("NVDA", 1))
	d1, _ := q.Dequeue(ctx, "worker-1")
	// worker-1 crashes: no ack.

	*now = now.Add(2 * time.Minute)

	d2, err := q.Dequeue(ctx, "worker-2")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if d2.Job.ID != d1.Job.ID {
		t.Errorf("redelivered different job: %s vs %s", d2.Job.ID, d1.Job.ID)
	}
	if d2.Attempt != 2 {
		t.Errorf("attempt should increment on redelivery, got %d", d2.Attempt)
	}
	if d2.Consumer != "worker-2" {
		t.Errorf("job should transfer to the claiming consumer, got %s", d2.Consumer)
	}
}

func TestMemory_DeadLetterExactlyOnce(t *testing.T) {
	var deadLettered atomic.Int64
	opts := testOptions()
	opts.MaxAttempts = 3
	opts.OnDeadLetter = func(_ context.Context, job Job, attempts int64) {
		deadLettered.Add(1)
		if attempts != 3 {
			t.Errorf("dead-letter attempts: want 3, got %d", attempts)
		}
	}
	q := NewMemory(opts)
	now, clock := fakeClock(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	q.SetClock(clock)
	ctx := context.Background()

	q.Enqueue(ctx, NewJob("TSLA", 1))

	// Three deliveries, never acked.
	for i := 0; i < 3; i++ {
		if _, err := q.Dequeue(ctx, "worker-1"); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
		*now = now.Add(2 * time.Minute)
	}

	// The fourth attempt dead-letters instead of redelivering.
	if _, err := q.Dequeue(ctx, "worker-1"); err != ErrNoJob {
		t.Errorf("job past max attempts should not be redelivered, err=%v", err)
	}
	if got := deadLettered.Load(); got != 1 {
		t.Errorf("dead-letter callback should fire exactly once, got %d", got)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("dead-lettered job should leave the queue, got len %d", n)
	}
}

func TestMemory_MaxLenTrimsOldest(t *testing.T) {
	opts := testOptions()
	opts.MaxLen = 3
	q := NewMemory(opts)
	ctx := context.Background()

	for _, ticker := range []string{"A", "B", "C", "D"} {
		q.Enqueue(ctx, NewJob(ticker, 1))
	}

	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("queue should be capped at 3, got %d", n)
	}
	d, _ := q.Dequeue(ctx, "worker-1")
	if d.Job.Ticker != "B" {
		t.Errorf("oldest entry should have been trimmed, first delivery is %s", d.Job.Ticker)
	}
}

func TestMemory_MaxLenTrimsClaimedEntries(t *testing.T) {
	opts := testOptions()
	opts.MaxLen = 2
	q := NewMemory(opts)
	ctx := context.Background()

	q.Enqueue(ctx, NewJob("A", 1))
	q.Enqueue(ctx, NewJob("B", 1))
	d, err := q.Dequeue(ctx, "worker-1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// A claimed entry is still the oldest; the cap drops it like any other.
	q.Enqueue(ctx, NewJob("C", 1))

	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("queue should be capped at 2, got %d", n)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("trimmed claim still pending: %+v", pending)
	}
	if err := q.Ack(ctx, d); err != nil {
		t.Errorf("ack of a trimmed delivery should be a no-op, got %v", err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("no-op ack changed queue len to %d", n)
	}
}

func TestMemory_DequeueBlocksUntilPollTimeout(t *testing.T) {
	q := NewMemory(testOptions())

	start := time.Now()
	_, err := q.Dequeue(context.Background(), "worker-1")
	if err != ErrNoJob {
		t.Fatalf("want ErrNoJob, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("dequeue should block for the poll window, returned after %v", elapsed)
	}
}
