// Package extract turns stored CV and report documents into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/cvscreen/internal/storage"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
	"github.com/unidoc/unipdf/v3/common/license"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// SupportedExtensions lists the file extensions uploads may use.
var SupportedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// SetLicense installs a metered unidoc key. Without one, PDF parsing may be
// rejected by the library.
func SetLicense(key string) error {
	if key == "" {
		return nil
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("set unidoc license: %w", err)
	}
	return nil
}

// Text converts raw document bytes to plain text, choosing the parser by the
// filename's extension.
func Text(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	case ".txt", ".md":
		return strings.TrimSpace(strings.ToValidUTF8(string(data), "")), nil
	default:
		return "", fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}
}

// Extractor reads a document from storage and returns its text.
type Extractor struct {
	blobs storage.Blobs
}

func New(blobs storage.Blobs) *Extractor {
	return &Extractor{blobs: blobs}
}

func (e *Extractor) Extract(ctx context.Context, doc *models.Document) (string, error) {
	data, err := e.blobs.Get(ctx, doc.StoredPath)
	if err != nil {
		return "", fmt.Errorf("read %s document: %w", doc.Kind, err)
	}
	text, err := Text(doc.Filename, data)
	if err != nil {
		return "", fmt.Errorf("extract %s document: %w", doc.Kind, err)
	}
	return text, nil
}
