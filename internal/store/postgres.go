package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, filename, stored_path, kind, content_type, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.Filename, doc.StoredPath, doc.Kind, doc.ContentType, doc.SizeBytes, doc.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: document %s already exists", ErrConflict, doc.ID)
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var d models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, stored_path, kind, content_type, size_bytes, created_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Filename, &d.StoredPath, &d.Kind, &d.ContentType, &d.SizeBytes, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, title, cv_document_id, report_document_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Title, job.CVDocumentID, job.ReportDocumentID, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("%w: %s", ErrConflict, conflictDetail(pgErr.ConstraintName))
			case "23503":
				return fmt.Errorf("%w: referenced document does not exist", ErrNotFound)
			}
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func conflictDetail(constraint string) string {
	switch constraint {
	case "jobs_cv_document_id_key":
		return "cv document is already attached to a job"
	case "jobs_report_document_id_key":
		return "report document is already attached to a job"
	default:
		return "job already exists"
	}
}

const jobColumns = `j.id, j.title, j.cv_document_id, j.report_document_id, j.status, j.attempts,
	j.started_at, j.completed_at, j.created_at, j.updated_at`

func jobScanTargets(j *models.Job) []any {
	return []any{&j.ID, &j.Title, &j.CVDocumentID, &j.ReportDocumentID, &j.Status, &j.Attempts,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt}
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`, id,
	).Scan(jobScanTargets(&j)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// nullableDocument scans a LEFT JOINed document whose columns may all be NULL.
type nullableDocument struct {
	ID          *uuid.UUID
	Filename    *string
	StoredPath  *string
	Kind        *string
	ContentType *string
	SizeBytes   *int64
	CreatedAt   *time.Time
}

func (n *nullableDocument) targets() []any {
	return []any{&n.ID, &n.Filename, &n.StoredPath, &n.Kind, &n.ContentType, &n.SizeBytes, &n.CreatedAt}
}

func (n *nullableDocument) document() *models.Document {
	if n.ID == nil {
		return nil
	}
	d := &models.Document{ID: *n.ID}
	if n.Filename != nil {
		d.Filename = *n.Filename
	}
	if n.StoredPath != nil {
		d.StoredPath = *n.StoredPath
	}
	if n.Kind != nil {
		d.Kind = *n.Kind
	}
	if n.ContentType != nil {
		d.ContentType = *n.ContentType
	}
	if n.SizeBytes != nil {
		d.SizeBytes = *n.SizeBytes
	}
	if n.CreatedAt != nil {
		d.CreatedAt = *n.CreatedAt
	}
	return d
}

func (s *PostgresStore) GetJobWithDocuments(ctx context.Context, id uuid.UUID) (*models.JobWithDocuments, error) {
	var (
		out        models.JobWithDocuments
		cv, report nullableDocument
	)
	targets := jobScanTargets(&out.Job)
	targets = append(targets, cv.targets()...)
	targets = append(targets, report.targets()...)

	err := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`,
		        c.id, c.filename, c.stored_path, c.kind, c.content_type, c.size_bytes, c.created_at,
		        r.id, r.filename, r.stored_path, r.kind, r.content_type, r.size_bytes, r.created_at
		 FROM jobs j
		 LEFT JOIN documents c ON c.id = j.cv_document_id
		 LEFT JOIN documents r ON r.id = j.report_document_id
		 WHERE j.id = $1`, id,
	).Scan(targets...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job with documents: %w", err)
	}

	out.CV = cv.document()
	out.Report = report.document()
	return &out, nil
}

func (s *PostgresStore) GetJobWithResult(ctx context.Context, id uuid.UUID) (*models.Job, *models.Result, error) {
	var (
		j                    models.Job
		resJobID             *uuid.UUID
		r                    models.Result
		resCreated, resUpdtd *time.Time
	)
	targets := jobScanTargets(&j)
	targets = append(targets, &resJobID, &r.CVMatchRate, &r.CVFeedback, &r.ProjectScore,
		&r.ProjectFeedback, &r.OverallSummary, &resCreated, &resUpdtd)

	err := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`,
		        r.job_id, r.cv_match_rate, r.cv_feedback, r.project_score, r.project_feedback,
		        r.overall_summary, r.created_at, r.updated_at
		 FROM jobs j
		 LEFT JOIN results r ON r.job_id = j.id
		 WHERE j.id = $1`, id,
	).Scan(targets...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get job with result: %w", err)
	}

	if resJobID == nil {
		return &j, nil, nil
	}
	r.JobID = *resJobID
	if resCreated != nil {
		r.CreatedAt = *resCreated
	}
	if resUpdtd != nil {
		r.UpdatedAt = *resUpdtd
	}
	return &j, &r, nil
}

func (s *PostgresStore) ListQueuedJobs(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`,
		models.JobStatusQueued, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan queued jobs: %w", err)
	}
	return ids, nil
}

// --- Status transitions ---

// validTransitions is the job state machine. processing -> processing covers
// redelivery after a worker crash; completed has no outgoing edges.
var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusFailed:     {models.JobStatusProcessing},
}

// sourcesFor returns every status from which target may be entered.
func sourcesFor(target string) []string {
	var from []string
	for src, targets := range validTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
				break
			}
		}
	}
	return from
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts...)

	from := sourcesFor(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", attempts = attempts + 1, started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, tx, id, status)
	}

	if params.ErrorMessage != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO results (job_id, overall_summary, created_at, updated_at)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (job_id) DO UPDATE
			 SET overall_summary = EXCLUDED.overall_summary, updated_at = EXCLUDED.updated_at`,
			id, *params.ErrorMessage, now)
		if err != nil {
			return fmt.Errorf("upsert failure summary: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveEvaluationResult(ctx context.Context, jobID uuid.UUID, data models.EvaluationData) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = $3, completed_at = $3
		 WHERE id = $1 AND status = ANY($4)`,
		jobID, models.JobStatusCompleted, now, sourcesFor(models.JobStatusCompleted))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err := transitionError(ctx, tx, jobID, models.JobStatusCompleted)
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO results (job_id, cv_match_rate, cv_feedback, project_score, project_feedback,
		                      overall_summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (job_id) DO UPDATE SET
		     cv_match_rate    = EXCLUDED.cv_match_rate,
		     cv_feedback      = EXCLUDED.cv_feedback,
		     project_score    = EXCLUDED.project_score,
		     project_feedback = EXCLUDED.project_feedback,
		     overall_summary  = EXCLUDED.overall_summary,
		     updated_at       = EXCLUDED.updated_at`,
		jobID, data.CVMatchRate, data.CVFeedback, data.ProjectScore, data.ProjectFeedback,
		data.OverallSummary, now)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// transitionError explains why a guarded UPDATE matched no row.
func transitionError(ctx context.Context, tx pgx.Tx, id uuid.UUID, target string) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if current == models.JobStatusCompleted {
		return fmt.Errorf("%w: job %s is already completed", ErrTerminalState, id)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
