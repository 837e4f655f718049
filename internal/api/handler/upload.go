package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/cvscreen/internal/api/response"
	"github.com/kiranshivaraju/cvscreen/internal/storage"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

const defaultMaxUploadBytes = 10 << 20

// uploadExtensions are the formats accepted at the upload boundary.
var uploadExtensions = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

type uploadedDocument struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
}

type uploadResponse struct {
	CV     uploadedDocument `json:"cv"`
	Report uploadedDocument `json:"report"`
}

// badUpload is a client error in one multipart part.
type badUpload string

func (e badUpload) Error() string { return string(e) }

type pendingUpload struct {
	header *multipart.FileHeader
	doc    *models.Document
	ext    string
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/upload.
// It expects multipart fields "cv" and "report"; both are validated before
// either is stored.
func NewUploadHandler(st DocumentStore, blobs storage.Blobs, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Two files plus multipart framing.
		r.Body = http.MaxBytesReader(w, r.Body, 2*maxBytes+1<<20)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Each file must be at most %d bytes", maxBytes), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		var uploads []pendingUpload
		for _, kind := range []string{models.DocumentKindCV, models.DocumentKindReport} {
			u, err := checkUpload(r.MultipartForm, kind, maxBytes)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			uploads = append(uploads, u)
		}

		for _, u := range uploads {
			if err := saveUpload(r.Context(), st, blobs, u); err != nil {
				slog.Error("upload failed", "kind", u.doc.Kind, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store document", nil)
				return
			}
		}

		response.Created(w, uploadResponse{
			CV:     uploadedDocument{ID: uploads[0].doc.ID, Filename: uploads[0].doc.Filename},
			Report: uploadedDocument{ID: uploads[1].doc.ID, Filename: uploads[1].doc.Filename},
		})
	}
}

func checkUpload(form *multipart.Form, kind string, maxBytes int64) (pendingUpload, error) {
	headers := form.File[kind]
	if len(headers) == 0 {
		return pendingUpload{}, badUpload(kind + " file is required")
	}
	header := headers[0]

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := uploadExtensions[ext]
	switch {
	case !ok:
		return pendingUpload{}, badUpload(kind + " must be a .pdf, .docx or .txt file")
	case header.Size > maxBytes:
		return pendingUpload{}, badUpload(fmt.Sprintf("%s exceeds %d bytes", kind, maxBytes))
	case header.Size == 0:
		return pendingUpload{}, badUpload(kind + " is empty")
	}

	return pendingUpload{
		header: header,
		ext:    ext,
		doc: &models.Document{
			ID:          uuid.New(),
			Filename:    filename,
			Kind:        kind,
			ContentType: contentType,
			SizeBytes:   header.Size,
			CreatedAt:   time.Now().UTC(),
		},
	}, nil
}

func saveUpload(ctx context.Context, st DocumentStore, blobs storage.Blobs, u pendingUpload) error {
	file, err := u.header.Open()
	if err != nil {
		return fmt.Errorf("open %s part: %w", u.doc.Kind, err)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/%s%s", u.doc.Kind, u.doc.ID, u.ext)
	if u.doc.StoredPath, err = blobs.Put(ctx, key, file, u.doc.ContentType); err != nil {
		return fmt.Errorf("store %s document: %w", u.doc.Kind, err)
	}
	if err := st.CreateDocument(ctx, u.doc); err != nil {
		return fmt.Errorf("record %s document: %w", u.doc.Kind, err)
	}
	return nil
}
