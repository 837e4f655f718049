package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentKindCV     = "cv"
	DocumentKindReport = "report"
)

// Document is an uploaded candidate file. Immutable once created.
type Document struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Filename    string    `db:"filename"     json:"filename"`
	StoredPath  string    `db:"stored_path"  json:"-"`
	Kind        string    `db:"kind"         json:"kind"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes"   json:"size_bytes"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
