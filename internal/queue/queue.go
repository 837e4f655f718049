// Package queue carries evaluate-job work items from the API to the workers
// and owns the retry policy: a bounded number of attempts with exponential
// backoff, completed items dropped, exhausted items retained for inspection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobName is the named job type every envelope carries.
const JobName = "evaluate-job"

var (
	// ErrNoItem is returned by Reserve when nothing arrived within the wait.
	ErrNoItem = errors.New("no work item available")
	ErrClosed = errors.New("queue closed")
)

// WorkItem is the queue payload. All other state lives in the job store.
type WorkItem struct {
	JobID string `json:"jobId"`
}

// Envelope is the queue's bookkeeping around a WorkItem.
type Envelope struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Data         WorkItem   `json:"data"`
	AttemptsMade int        `json:"attemptsMade"`
	MaxAttempts  int        `json:"maxAttempts"`
	BackoffMs    int64      `json:"backoffMs"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
	FailedReason string     `json:"failedReason,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
}

// Delivery is one reserved envelope. Exactly one of Complete or Fail must be
// called for it.
type Delivery struct {
	Envelope Envelope
	// DecodeErr is set when the raw message was not a valid envelope.
	DecodeErr error

	raw    string
	handle any
}

// Outcome says what Fail did with a delivery.
type Outcome int

const (
	OutcomeRetryScheduled Outcome = iota
	OutcomeRetained
)

func (o Outcome) String() string {
	if o == OutcomeRetryScheduled {
		return "retry_scheduled"
	}
	return "retained"
}

// Producer enqueues work items.
type Producer interface {
	Enqueue(ctx context.Context, item WorkItem) (string, error)
}

// Queue is the full contract the worker consumes.
type Queue interface {
	Producer
	// Reserve blocks up to wait for the next item; ErrNoItem when none arrived.
	Reserve(ctx context.Context, wait time.Duration) (*Delivery, error)
	// Complete removes a successfully processed item.
	Complete(ctx context.Context, d *Delivery) error
	// Fail records an attempt. Retryable failures with attempts left are
	// rescheduled after the backoff; everything else is retained.
	Fail(ctx context.Context, d *Delivery, cause error, retryable bool) (Outcome, error)
	// Maintain runs periodic housekeeping such as promoting due retries.
	Maintain(ctx context.Context) error
	// Failed lists up to limit retained items for inspection.
	Failed(ctx context.Context, limit int) ([]Envelope, error)
	Ping(ctx context.Context) error
}

// Options is the retry policy applied to every enqueued item.
type Options struct {
	Attempts     int
	BackoffDelay time.Duration
	// LeaseTimeout is how long a reserved item may stay in flight before
	// Maintain hands it to another worker.
	LeaseTimeout time.Duration
}

// DefaultOptions matches the evaluate-job contract: 3 attempts, exponential
// backoff from 5 seconds.
func DefaultOptions() Options {
	return Options{Attempts: 3, BackoffDelay: 5 * time.Second, LeaseTimeout: 30 * time.Minute}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = d.BackoffDelay
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = d.LeaseTimeout
	}
	return o
}

// Backoff returns the delay before the next attempt once attemptsMade
// attempts have failed: delay * 2^(attemptsMade-1).
func Backoff(base time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return base << (attemptsMade - 1)
}

func newEnvelope(item WorkItem, opts Options) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Name:        JobName,
		Data:        item,
		MaxAttempts: opts.Attempts,
		BackoffMs:   opts.BackoffDelay.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}
}

func decodeDelivery(raw string) *Delivery {
	d := &Delivery{raw: raw}
	if err := json.Unmarshal([]byte(raw), &d.Envelope); err != nil {
		d.DecodeErr = err
	}
	return d
}

// recordFailure advances the envelope past a failed attempt and reports
// whether another attempt should be scheduled.
func recordFailure(env *Envelope, cause error, retryable bool, opts Options) (retry bool, delay time.Duration) {
	now := time.Now().UTC()
	env.AttemptsMade++
	env.FailedAt = &now
	if cause != nil {
		env.FailedReason = cause.Error()
	}

	maxAttempts := env.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = opts.Attempts
	}
	base := time.Duration(env.BackoffMs) * time.Millisecond
	if base <= 0 {
		base = opts.BackoffDelay
	}

	if !retryable || env.AttemptsMade >= maxAttempts {
		return false, 0
	}
	return true, Backoff(base, env.AttemptsMade)
}
