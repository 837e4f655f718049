package retrieval

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kiranshivaraju/cvscreen/internal/extract"
)

// Reference is one ground-truth document: a job description, case study
// brief or scoring rubric.
type Reference struct {
	Source string
	Text   string
}

// LoadReferences reads every supported document in dir, sorted by name.
func LoadReferences(dir string) ([]Reference, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read reference dir: %w", err)
	}

	var refs []Reference
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read reference %s: %w", e.Name(), err)
		}
		text, err := extract.Text(e.Name(), data)
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			slog.Warn("skipping reference document", "file", e.Name(), "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("extract reference %s: %w", e.Name(), err)
		}
		if text == "" {
			continue
		}
		refs = append(refs, Reference{Source: e.Name(), Text: text})
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("no reference documents found in %s", dir)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Source < refs[j].Source })
	return refs, nil
}

func sources(refs []Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Source
	}
	return out
}
