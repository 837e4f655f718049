package models

import (
	"time"

	"github.com/google/uuid"
)

// Result holds the evaluation output for a job. A completed job has every
// field set; a failed job only carries OverallSummary (the last error).
type Result struct {
	JobID           uuid.UUID `db:"job_id"           json:"job_id"`
	CVMatchRate     *float64  `db:"cv_match_rate"    json:"cv_match_rate"`
	CVFeedback      *string   `db:"cv_feedback"      json:"cv_feedback"`
	ProjectScore    *float64  `db:"project_score"    json:"project_score"`
	ProjectFeedback *string   `db:"project_feedback" json:"project_feedback"`
	OverallSummary  *string   `db:"overall_summary"  json:"overall_summary"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// Scored reports whether every score field is populated.
func (r *Result) Scored() bool {
	return r.CVMatchRate != nil && r.ProjectScore != nil
}

// EvaluationData is what the pipeline persists on success.
type EvaluationData struct {
	CVMatchRate     float64
	CVFeedback      string
	ProjectScore    float64
	ProjectFeedback string
	OverallSummary  string
}

// StageScore is the decoded output of a scoring stage.
type StageScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}
