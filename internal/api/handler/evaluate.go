package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/internal/api/response"
	"github.com/kiranshivaraju/cvscreen/internal/cache"
	"github.com/kiranshivaraju/cvscreen/internal/queue"
	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

type evaluateRequest struct {
	JobTitle string `json:"job_title" validate:"required,max=200"`
	CVID     string `json:"cv_id"     validate:"required,uuid"`
	ReportID string `json:"report_id" validate:"required,uuid,nefield=CVID"`
}

// jobView is the poller-facing job body shared by evaluate and result.
type jobView struct {
	ID     uuid.UUID   `json:"id"`
	Status string      `json:"status"`
	Result *resultView `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewEvaluateHandler returns an http.HandlerFunc for POST /api/v1/evaluate.
// It creates the job as queued and enqueues its work item. A failed enqueue
// still answers 202: the job is durable and the worker replays stale queued
// jobs at startup.
func NewEvaluateHandler(st JobStore, p queue.Producer, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		req.JobTitle = strings.TrimSpace(req.JobTitle)
		if err := validate.Struct(req); err != nil {
			response.ValidationError(w, err)
			return
		}
		cvID, reportID := uuid.MustParse(req.CVID), uuid.MustParse(req.ReportID)

		if !checkKind(w, r, st, cvID, models.DocumentKindCV) ||
			!checkKind(w, r, st, reportID, models.DocumentKindReport) {
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:               uuid.New(),
			Title:            req.JobTitle,
			CVDocumentID:     cvID,
			ReportDocumentID: reportID,
			Status:           models.JobStatusQueued,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			switch {
			case errors.Is(err, store.ErrConflict):
				response.Error(w, http.StatusConflict, "DOCUMENT_IN_USE", err.Error(), nil)
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
			default:
				slog.Error("create job failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			}
			return
		}

		log := slog.With("job_id", job.ID)
		if _, err := p.Enqueue(r.Context(), queue.WorkItem{JobID: job.ID.String()}); err != nil {
			log.Error("enqueue failed, job left for replay", "error", err)
		}
		if c != nil {
			if err := c.SetJobStatus(r.Context(), job.ID, models.JobStatusQueued, cache.JobStatusTTL); err != nil {
				log.Warn("failed to cache job status", "error", err)
			}
		}
		log.Info("evaluation job queued", "title", job.Title)

		response.Bare(w, http.StatusAccepted, jobView{ID: job.ID, Status: job.Status})
	}
}

// checkKind writes an error response and returns false unless id names a
// document of the given kind.
func checkKind(w http.ResponseWriter, r *http.Request, st DocumentStore, id uuid.UUID, kind string) bool {
	doc, err := st.GetDocument(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", kind+" document not found", nil)
		return false
	case err != nil:
		slog.Error("load document failed", "document_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load document", nil)
		return false
	case doc.Kind != kind:
		response.Error(w, http.StatusUnprocessableEntity, "WRONG_DOCUMENT_KIND",
			"document "+id.String()+" is a "+doc.Kind+", not a "+kind, nil)
		return false
	}
	return true
}
