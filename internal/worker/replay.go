package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/internal/queue"
)

type QueuedJobLister interface {
	ListQueuedJobs(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

// ReplayQueued re-enqueues jobs that have sat in queued longer than
// olderThan, covering work items lost between job creation and enqueue.
// Duplicates are harmless: a completed job acknowledges without work.
func ReplayQueued(ctx context.Context, st QueuedJobLister, p queue.Producer, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	ids, err := st.ListQueuedJobs(ctx, olderThan, 500)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	n := 0
	for _, id := range ids {
		if _, err := p.Enqueue(ctx, queue.WorkItem{JobID: id.String()}); err != nil {
			return n, fmt.Errorf("re-enqueue job %s: %w", id, err)
		}
		n++
	}
	if n > 0 {
		slog.Info("replayed stale queued jobs", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}
