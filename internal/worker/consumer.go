// Package worker pulls evaluate-job items off the queue and drives each job
// through the status protocol around the evaluation pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/internal/cache"
	"github.com/kiranshivaraju/cvscreen/internal/evaluation"
	"github.com/kiranshivaraju/cvscreen/internal/queue"
	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

var errMalformedItem = errors.New("malformed work item")

// JobStore is the part of the store the consumer writes.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
}

type Pipeline interface {
	Run(ctx context.Context, jobID uuid.UUID) (*models.EvaluationData, error)
}

// StatusCache mirrors job status for cheap polling. Optional.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

type Config struct {
	// Concurrency is the number of worker slots, each handling one item at a time.
	Concurrency int
	// PollWait is how long a slot blocks on an empty queue before rechecking
	// for shutdown.
	PollWait time.Duration
	// MaintainInterval is how often due retries are promoted and stalled
	// items recovered.
	MaintainInterval time.Duration
}

type Consumer struct {
	queue    queue.Queue
	store    JobStore
	pipeline Pipeline
	cache    StatusCache
	cfg      Config
}

func NewConsumer(q queue.Queue, st JobStore, p Pipeline, c StatusCache, cfg Config) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 2 * time.Second
	}
	if cfg.MaintainInterval <= 0 {
		cfg.MaintainInterval = time.Second
	}
	return &Consumer{queue: q, store: st, pipeline: p, cache: c, cfg: cfg}
}

// Run starts the worker slots and the maintenance loop, and blocks until ctx
// is cancelled and every in-flight item has finished.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer started", "concurrency", c.cfg.Concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.maintain(ctx)
	}()
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			c.slot(ctx, slot)
		}(i)
	}
	wg.Wait()

	slog.Info("consumer stopped")
	return nil
}

func (c *Consumer) slot(ctx context.Context, n int) {
	for ctx.Err() == nil {
		d, err := c.queue.Reserve(ctx, c.cfg.PollWait)
		switch {
		case err == nil:
			c.Process(ctx, d)
		case errors.Is(err, queue.ErrNoItem):
		case ctx.Err() != nil:
			return
		case errors.Is(err, queue.ErrClosed):
			slog.Error("queue closed, stopping slot", "slot", n)
			return
		default:
			slog.Error("failed to reserve work item", "slot", n, "error", err)
			sleep(ctx, time.Second)
		}
	}
}

func (c *Consumer) maintain(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.MaintainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.queue.Maintain(ctx); err != nil && ctx.Err() == nil {
				slog.Error("queue maintenance failed", "error", err)
			}
		}
	}
}

// Process runs the status protocol for one delivery and settles it with the
// queue: Complete on success, Fail with the error otherwise.
func (c *Consumer) Process(ctx context.Context, d *queue.Delivery) {
	start := time.Now()
	log := slog.With("item_id", d.Envelope.ID, "job_id", d.Envelope.Data.JobID, "attempt", d.Envelope.AttemptsMade+1)

	retryable, err := c.handle(ctx, log, d)
	if err != nil && ctx.Err() != nil {
		// Shutting down: leave the item in flight so it is redelivered
		// without consuming an attempt.
		log.Warn("interrupted by shutdown, item left for redelivery", "error", err)
		return
	}

	settleCtx := context.WithoutCancel(ctx)
	if err == nil {
		if cerr := c.queue.Complete(settleCtx, d); cerr != nil {
			log.Error("failed to complete work item", "error", cerr)
		}
		return
	}

	outcome, ferr := c.queue.Fail(settleCtx, d, err, retryable)
	if ferr != nil {
		log.Error("failed to record work item failure", "error", ferr, "cause", err)
		c.publishOutcome(settleCtx, log, d, queue.OutcomeRetained)
		return
	}
	c.publishOutcome(settleCtx, log, d, outcome)
	log.Warn("work item failed",
		"error", err,
		"retryable", retryable,
		"outcome", outcome.String(),
		"duration_ms", time.Since(start).Milliseconds())
}

// handle returns the failure to report to the queue, if any, and whether
// the queue may retry it.
func (c *Consumer) handle(ctx context.Context, log *slog.Logger, d *queue.Delivery) (retryable bool, err error) {
	if d.DecodeErr != nil {
		return false, fmt.Errorf("%w: %v", errMalformedItem, d.DecodeErr)
	}
	if d.Envelope.Data.JobID == "" {
		return false, fmt.Errorf("%w: missing jobId", errMalformedItem)
	}
	jobID, err := uuid.Parse(d.Envelope.Data.JobID)
	if err != nil {
		return false, fmt.Errorf("%w: jobId %q is not a UUID", errMalformedItem, d.Envelope.Data.JobID)
	}

	err = c.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing)
	switch {
	case errors.Is(err, store.ErrTerminalState):
		log.Info("job already completed, skipping duplicate delivery")
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("%w: job %s not found", evaluation.ErrPermanent, jobID)
	case errors.Is(err, store.ErrInvalidTransition):
		return false, fmt.Errorf("%w: %v", evaluation.ErrPermanent, err)
	case err != nil:
		return true, fmt.Errorf("mark job processing: %w", err)
	}
	c.setStatus(ctx, log, jobID, models.JobStatusProcessing)

	data, err := c.runPipeline(ctx, jobID)
	if err == nil {
		c.setStatus(ctx, log, jobID, models.JobStatusCompleted)
		log.Info("evaluation completed",
			"cv_match_rate", data.CVMatchRate,
			"project_score", data.ProjectScore)
		return false, nil
	}
	if ctx.Err() != nil {
		return true, err
	}

	if acked := c.recordFailure(ctx, log, jobID, err); acked {
		return false, nil
	}
	return !errors.Is(err, evaluation.ErrPermanent), err
}

func (c *Consumer) runPipeline(ctx context.Context, jobID uuid.UUID) (data *models.EvaluationData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in evaluation pipeline: %v", r)
		}
	}()
	return c.pipeline.Run(ctx, jobID)
}

// recordFailure marks the job failed with cause as its summary. It reports
// true when the job turned out to be completed already, in which case the
// item should be acknowledged rather than failed.
func (c *Consumer) recordFailure(ctx context.Context, log *slog.Logger, jobID uuid.UUID, cause error) bool {
	err := c.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, store.WithErrorMessage(cause.Error()))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTerminalState):
		log.Info("job completed by another delivery, dropping failure", "error", cause)
		return true
	default:
		log.Error("failed to mark job failed", "error", err, "cause", cause)
	}
	return false
}

// publishOutcome mirrors the status pollers should see. The store says
// failed after every failed attempt, but until the queue gives up the job
// is still in progress.
func (c *Consumer) publishOutcome(ctx context.Context, log *slog.Logger, d *queue.Delivery, outcome queue.Outcome) {
	jobID, err := uuid.Parse(d.Envelope.Data.JobID)
	if d.DecodeErr != nil || err != nil {
		return
	}
	status := models.JobStatusFailed
	if outcome == queue.OutcomeRetryScheduled {
		status = models.JobStatusProcessing
	}
	c.setStatus(ctx, log, jobID, status)
}

func (c *Consumer) setStatus(ctx context.Context, log *slog.Logger, jobID uuid.UUID, status string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJobStatus(ctx, jobID, status, cache.JobStatusTTL); err != nil {
		log.Warn("failed to cache job status", "status", status, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
