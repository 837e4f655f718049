package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/internal/api/response"
	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

type resultView struct {
	CVMatchRate     *float64 `json:"cv_match_rate"`
	CVFeedback      *string  `json:"cv_feedback"`
	ProjectScore    *float64 `json:"project_score"`
	ProjectFeedback *string  `json:"project_feedback"`
	OverallSummary  *string  `json:"overall_summary"`
}

// NewResultHandler returns an http.HandlerFunc for GET /api/v1/result/{id}.
func NewResultHandler(st JobStore, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a UUID", nil)
			return
		}

		job, result, err := st.GetJobWithResult(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("load job failed", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.Bare(w, http.StatusOK, view(r, c, job, result))
	}
}

func view(r *http.Request, c StatusCache, job *models.Job, result *models.Result) jobView {
	v := jobView{ID: job.ID, Status: job.Status}
	switch job.Status {
	case models.JobStatusCompleted:
		if result != nil {
			v.Result = &resultView{
				CVMatchRate:     result.CVMatchRate,
				CVFeedback:      result.CVFeedback,
				ProjectScore:    result.ProjectScore,
				ProjectFeedback: result.ProjectFeedback,
				OverallSummary:  result.OverallSummary,
			}
		}
	case models.JobStatusFailed:
		if retryPending(r, c, job.ID) {
			v.Status = models.JobStatusProcessing
			return v
		}
		if result != nil && result.OverallSummary != nil {
			v.Error = *result.OverallSummary
		}
	}
	return v
}

// retryPending reports whether the worker has scheduled another attempt
// for a job the store records as failed.
func retryPending(r *http.Request, c StatusCache, id uuid.UUID) bool {
	if c == nil {
		return false
	}
	status, ok, err := c.GetJobStatus(r.Context(), id)
	if err != nil {
		slog.Warn("failed to read cached job status", "job_id", id, "error", err)
		return false
	}
	return ok && status == models.JobStatusProcessing
}
