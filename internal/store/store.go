package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("resource conflict")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrTerminalState     = errors.New("job is in a terminal state")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)

	// CreateJob fails with ErrConflict when either document is already
	// attached to another job, and with ErrNotFound when a document is unknown.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobWithDocuments(ctx context.Context, id uuid.UUID) (*models.JobWithDocuments, error)
	// GetJobWithResult returns a nil Result when none has been written yet.
	GetJobWithResult(ctx context.Context, id uuid.UUID) (*models.Job, *models.Result, error)
	ListQueuedJobs(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)

	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	// SaveEvaluationResult upserts the result and completes the job in one
	// transaction. Saving for an already completed job is a no-op.
	SaveEvaluationResult(ctx context.Context, jobID uuid.UUID, data models.EvaluationData) error
}

// JobUpdate collects the optional fields of a status change.
type JobUpdate struct {
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdate)

// ApplyJobUpdateOptions folds opts into a JobUpdate.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithErrorMessage records msg as the result's overall summary, in the same
// transaction as the status change.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}
