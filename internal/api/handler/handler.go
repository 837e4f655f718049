// Package handler implements the HTTP endpoints: document upload, job
// submission, result polling and health.
package handler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// DocumentStore persists uploaded document records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// JobStore is the part of the store the submission and polling endpoints use.
type JobStore interface {
	DocumentStore
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobWithResult(ctx context.Context, id uuid.UUID) (*models.Job, *models.Result, error)
}

// StatusCache holds the poller-visible job status written by the worker.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}
