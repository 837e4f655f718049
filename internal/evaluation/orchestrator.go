// Package evaluation runs the scoring pipeline for one job: load, extract,
// score the CV and project report against retrieved rubrics, summarize and
// persist.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// ErrPermanent marks failures that no retry can fix: the job or one of its
// documents is missing.
var ErrPermanent = errors.New("permanent evaluation failure")

// JobStore is the part of the store the pipeline reads and writes.
type JobStore interface {
	GetJobWithDocuments(ctx context.Context, id uuid.UUID) (*models.JobWithDocuments, error)
	SaveEvaluationResult(ctx context.Context, jobID uuid.UUID, data models.EvaluationData) error
}

type Extractor interface {
	Extract(ctx context.Context, doc *models.Document) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	// TopK is how many reference passages each scoring stage retrieves.
	TopK int
	// MaxDocumentBytes caps the CV and report text placed in a prompt.
	MaxDocumentBytes int
}

type Orchestrator struct {
	store     JobStore
	extractor Extractor
	retriever Retriever
	generator Generator
	cfg       Config
}

func NewOrchestrator(st JobStore, ex Extractor, rt Retriever, gen Generator, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	return &Orchestrator{store: st, extractor: ex, retriever: rt, generator: gen, cfg: cfg}
}

// Run evaluates one job. On success the result is persisted and the job is
// completed in one transaction. On error nothing has been written.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) (*models.EvaluationData, error) {
	log := slog.With("job_id", jobID)

	jwd, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var cvText, reportText string
	err = o.stage(ctx, log, "extract", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			cvText, err = o.extractor.Extract(gctx, jwd.CV)
			return err
		})
		g.Go(func() (err error) {
			reportText, err = o.extractor.Extract(gctx, jwd.Report)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	title := jwd.Job.Title
	var cvScore, projectScore models.StageScore
	err = o.stage(ctx, log, "score", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			cvScore, err = o.score(gctx, log, "cv",
				cvQuery(title),
				func(refs string) string {
					return cvPrompt(title, refs, truncateString(cvText, o.cfg.MaxDocumentBytes))
				},
				cvRange)
			return err
		})
		g.Go(func() (err error) {
			projectScore, err = o.score(gctx, log, "project",
				projectQuery,
				func(refs string) string {
					return projectPrompt(refs, truncateString(reportText, o.cfg.MaxDocumentBytes))
				},
				projectRange)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	var summary string
	err = o.stage(ctx, log, "summarize", func(ctx context.Context) error {
		out, err := o.generator.Generate(ctx,
			summaryPrompt(title, cvScore.Score, cvScore.Feedback, projectScore.Score, projectScore.Feedback))
		if err != nil {
			return fmt.Errorf("generate summary: %w", err)
		}
		summary = strings.TrimSpace(out)
		if summary == "" {
			log.Warn("empty summary from model, using fallback")
			summary = FallbackSummary
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	data := models.EvaluationData{
		CVMatchRate:     cvScore.Score,
		CVFeedback:      cvScore.Feedback,
		ProjectScore:    projectScore.Score,
		ProjectFeedback: projectScore.Feedback,
		OverallSummary:  summary,
	}
	err = o.stage(ctx, log, "persist", func(ctx context.Context) error {
		if err := o.store.SaveEvaluationResult(ctx, jobID, data); err != nil {
			return fmt.Errorf("save evaluation result: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

func (o *Orchestrator) load(ctx context.Context, jobID uuid.UUID) (*models.JobWithDocuments, error) {
	jwd, err := o.store.GetJobWithDocuments(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %s not found", ErrPermanent, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if jwd.CV == nil {
		return nil, fmt.Errorf("%w: job %s has no cv document", ErrPermanent, jobID)
	}
	if jwd.Report == nil {
		return nil, fmt.Errorf("%w: job %s has no report document", ErrPermanent, jobID)
	}
	return jwd, nil
}

// score runs retrieve, prompt, generate and decode for one document. A
// malformed model answer degrades to the fallback score; retrieval and
// generation errors abort.
func (o *Orchestrator) score(ctx context.Context, log *slog.Logger, name, query string,
	prompt func(refs string) string, r scoreRange) (models.StageScore, error) {
	refs, err := o.retriever.Retrieve(ctx, query, o.cfg.TopK)
	if err != nil {
		return models.StageScore{}, fmt.Errorf("retrieve %s context: %w", name, err)
	}

	out, err := o.generator.Generate(ctx, prompt(refs))
	if err != nil {
		return models.StageScore{}, fmt.Errorf("generate %s evaluation: %w", name, err)
	}

	s, ok := decodeScore(out, r)
	if !ok {
		log.Warn("unparseable scoring output, using fallback", "stage", name, "error", s.Feedback)
	}
	return s, nil
}

func (o *Orchestrator) stage(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if err != nil {
		log.Warn("stage failed", "stage", name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return err
	}
	log.Debug("stage complete", "stage", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
