package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one evaluation. The API returns its id on POST /api/v1/evaluate;
// the client polls GET /api/v1/result/{id} until status is completed or failed.
type Job struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	Title            string     `db:"title"              json:"title"`
	CVDocumentID     uuid.UUID  `db:"cv_document_id"     json:"cv_document_id"`
	ReportDocumentID uuid.UUID  `db:"report_document_id" json:"report_document_id"`
	Status           string     `db:"status"             json:"status"`
	Attempts         int        `db:"attempts"           json:"attempts"`
	StartedAt        *time.Time `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
}

// JobWithDocuments is a job joined with both of its documents.
// Either document may be nil when the relation is missing.
type JobWithDocuments struct {
	Job    Job
	CV     *Document
	Report *Document
}
