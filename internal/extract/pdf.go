package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// pdfText extracts every page's text. Pages that fail to parse are skipped;
// a document with no readable page is an error.
func pdfText(data []byte) (string, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			slog.Warn("skipping unreadable PDF page", "page", i, "error", err)
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			slog.Warn("skipping PDF page", "page", i, "error", err)
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil {
			slog.Warn("skipping PDF page", "page", i, "error", err)
			continue
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			sb.WriteString(pageText)
			sb.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text could be extracted from any page of the PDF")
	}
	return text, nil
}
