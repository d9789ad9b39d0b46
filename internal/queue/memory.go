package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	job        Job
	messageID  string
	deliveries int64

	// Claim state; zero consumer means the entry is up for delivery.
	consumer  string
	claimedAt time.Time
}

// Memory is an in-process queue with the same contract as Stream. It backs
// tests and redis-less development runs; it is not durable across restarts.
type Memory struct {
	mu      sync.Mutex
	entries []*memoryEntry
	opts    Options
	seq     int64
	now     func() time.Time
}

// NewMemory creates an in-memory queue.
func NewMemory(opts Options) *Memory {
	opts.applyDefaults()
	return &Memory{opts: opts, now: time.Now}
}

// SetClock replaces the queue's time source for visibility-timeout tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Enqueue appends a job, trimming the oldest entries past MaxLen regardless
// of claim state (XADD MaxLen semantics); an Ack for a trimmed delivery is a
// no-op.
func (m *Memory) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.entries = append(m.entries, &memoryEntry{
		job:       job,
		messageID: fmt.Sprintf("%d-0", m.seq),
	})

	for int64(len(m.entries)) > m.opts.MaxLen {
		m.entries = m.entries[1:]
	}
	return nil
}

// Dequeue returns the next deliverable entry, preferring timed-out pending
// entries, blocking up to PollBlock when the queue is drained.
func (m *Memory) Dequeue(ctx context.Context, consumer string) (*Delivery, error) {
	deadline := time.Now().Add(m.opts.PollBlock)
	for {
		if d, err := m.tryDequeue(ctx, consumer); err != nil || d != nil {
			return d, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNoJob
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Memory) tryDequeue(ctx context.Context, consumer string) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	// Redeliver expired claims first; dead-letter those over budget.
	for i := 0; i < len(m.entries); i++ {
		e := m.entries[i]
		if e.consumer == "" || now.Sub(e.claimedAt) < m.opts.VisibilityTimeout {
			continue
		}
		if e.deliveries+1 > m.opts.MaxAttempts {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			if m.opts.OnDeadLetter != nil {
				m.opts.OnDeadLetter(ctx, e.job, e.deliveries)
			}
			i--
			continue
		}
		return m.claim(e, consumer, now), nil
	}

	for _, e := range m.entries {
		if e.consumer == "" {
			return m.claim(e, consumer, now), nil
		}
	}
	return nil, nil
}

// claim marks an entry as held by consumer. Callers hold mu.
func (m *Memory) claim(e *memoryEntry, consumer string, now time.Time) *Delivery {
	e.consumer = consumer
	e.claimedAt = now
	e.deliveries++
	return &Delivery{
		Job:       e.job,
		MessageID: e.messageID,
		Consumer:  consumer,
		Attempt:   e.deliveries,
	}
}

// Ack removes the entry for a delivery.
func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.messageID == d.MessageID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Pending lists claimed, unacknowledged entries.
func (m *Memory) Pending(_ context.Context) ([]PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []PendingEntry
	for _, e := range m.entries {
		if e.consumer == "" {
			continue
		}
		out = append(out, PendingEntry{
			MessageID: e.messageID,
			Consumer:  e.consumer,
			Idle:      now.Sub(e.claimedAt),
			Attempts:  e.deliveries,
		})
	}
	return out, nil
}

// Len returns the number of retained entries.
func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}
