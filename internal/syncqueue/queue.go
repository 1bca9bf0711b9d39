// Package syncqueue holds mutations that failed for lack of connectivity
// and replays them in order once the origin is reachable again.
package syncqueue

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// Queue defaults.
const (
	DefaultCapacity   = 200
	DefaultMaxRetries = 5
)

// ErrOverflow is returned by Enqueue when the oldest mutation was dropped
// to make room.
var ErrOverflow = errors.New("sync queue full: oldest mutation dropped")

// Payload is the request a mutation replays.
type Payload struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Mutation is a queued write.
type Mutation struct {
	ID         string    `json:"id"`
	Payload    Payload   `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
}

// NewMutation wraps payload with a fresh id.
func NewMutation(payload Payload) *Mutation {
	return &Mutation{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Replayer sends a mutation to the origin.
type Replayer interface {
	Replay(ctx context.Context, m *Mutation) error
}

// ReplayFunc adapts a function to the Replayer interface.
type ReplayFunc func(ctx context.Context, m *Mutation) error

// Replay implements Replayer.
func (f ReplayFunc) Replay(ctx context.Context, m *Mutation) error {
	return f(ctx, m)
}

// Config holds configuration options for the sync queue
type Config struct {
	Capacity   int
	MaxRetries int
	RetryDelay time.Duration
	Verbose    bool
}

// Queue is a bounded FIFO of pending mutations.
type Queue struct {
	mu    sync.Mutex
	items []*Mutation

	// drainMu serializes Drain calls.
	drainMu sync.Mutex

	capacity   int
	maxRetries int
	retryDelay time.Duration
	reporter   report.Reporter
	verbose    bool
}

// Discarded is a mutation dropped after its final failed attempt.
type Discarded struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// DrainReport summarizes one drain.
type DrainReport struct {
	Replayed  []string    `json:"replayed"`
	Discarded []Discarded `json:"discarded"`
	Remaining int         `json:"remaining"`
}

// New creates a queue
func New(config *Config, reporter report.Reporter) *Queue {
	if config == nil {
		config = &Config{}
	}
	q := &Queue{
		capacity:   config.Capacity,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		reporter:   reporter,
		verbose:    config.Verbose,
	}
	if q.capacity <= 0 {
		q.capacity = DefaultCapacity
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if q.retryDelay < 0 {
		q.retryDelay = 0
	}
	if q.reporter == nil {
		q.reporter = report.Discard{}
	}

	if config.Verbose {
		log.Printf("Sync queue initialized (capacity %d, max retries %d, retry delay %s)", q.capacity, q.maxRetries, q.retryDelay)
	}
	return q
}

// Enqueue appends m. When the queue is full the oldest mutation is dropped
// and returned together with ErrOverflow.
func (q *Queue) Enqueue(m *Mutation) (*Mutation, error) {
	q.mu.Lock()
	q.items = append(q.items, m)
	var dropped *Mutation
	if len(q.items) > q.capacity {
		dropped = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	size := len(q.items)
	q.mu.Unlock()

	if q.verbose {
		log.Printf("Sync queue: enqueued %s %s %s (%d pending)", m.ID, m.Payload.Method, m.Payload.URL, size)
	}
	if dropped == nil {
		return nil, nil
	}

	log.Printf("Warning: sync queue full, dropped mutation %s", dropped.ID)
	q.reporter.Report(report.Event{Operation: "sync", Subject: dropped.ID, Outcome: report.OutcomeRecoverable, Err: ErrOverflow})
	return dropped, ErrOverflow
}

// Len returns the number of pending mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns copies of the pending mutations in order.
func (q *Queue) Snapshot() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Mutation, len(q.items))
	for i, m := range q.items {
		out[i] = *m
	}
	return out
}

// Drain replays pending mutations strictly in order. A failed mutation is
// retried in place, so nothing behind it replays before it resolves. It is
// discarded after MaxRetries retries or at once when the failure is
// permanent. A network failure stops the drain and leaves the mutation at
// the head for the next reconnect.
func (q *Queue) Drain(ctx context.Context, r Replayer) (*DrainReport, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	result := &DrainReport{}
	defer func() { result.Remaining = q.Len() }()

	for {
		head := q.head()
		if head == nil {
			return result, nil
		}

		err := r.Replay(ctx, head)
		if err == nil {
			q.remove(head)
			result.Replayed = append(result.Replayed, head.ID)
			q.reporter.Report(report.Event{Operation: "sync", Subject: head.ID, Outcome: report.OutcomeSuccess})
			if q.verbose {
				log.Printf("Sync queue: replayed %s", head.ID)
			}
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		attempts := q.recordFailure(head)
		if report.IsPermanent(err) || attempts > q.maxRetries {
			q.remove(head)
			failure := report.SyncReplayFailure(head.ID, attempts, err)
			log.Printf("Warning: %v", failure)
			q.reporter.Report(report.Event{Operation: "sync", Subject: head.ID, Outcome: report.OutcomeFatal, Err: failure})
			result.Discarded = append(result.Discarded, Discarded{ID: head.ID, Attempts: attempts, Err: failure})
			continue
		}

		if q.verbose {
			log.Printf("Sync queue: replay of %s failed (attempt %d) - %v", head.ID, attempts, err)
		}
		if report.IsNetworkUnavailable(err) {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(q.retryDelay):
		}
	}
}

func (q *Queue) head() *Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// recordFailure bumps the retry count and returns the attempts made so far.
func (q *Queue) recordFailure(m *Mutation) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	m.RetryCount++
	return m.RetryCount
}

// remove deletes m by identity; an overflow may already have dropped it.
func (q *Queue) remove(m *Mutation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == m {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
