package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// Generator bounds every provider call with the inference timeout and
// classifies provider errors. The timeout applies per call, not per job.
type Generator struct {
	provider models.AIProvider
	timeout  time.Duration
}

func NewGenerator(provider models.AIProvider, timeout time.Duration) *Generator {
	return &Generator{provider: provider, timeout: timeout}
}

func (g *Generator) Name() string { return g.provider.Name() }

// Generate returns the model's completion for prompt. An empty completion is
// not an error.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	out, err := g.provider.Generate(callCtx, prompt)
	if err != nil {
		return "", g.wrap(ctx, callCtx, err)
	}
	return out, nil
}

// Embed returns one vector per input text, in input order.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	vectors, err := g.provider.Embed(callCtx, texts)
	if err != nil {
		return nil, g.wrap(ctx, callCtx, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrInvalidResponse, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrInvalidResponse, i)
		}
	}
	return vectors, nil
}

func (g *Generator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// wrap passes the caller's own cancellation through untouched and reports
// the watchdog firing as ErrInferenceTimeout.
func (g *Generator) wrap(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	if callCtx.Err() != nil {
		return fmt.Errorf("%w after %s: %v", ErrInferenceTimeout, g.timeout, err)
	}
	return fmt.Errorf("%s: %w", g.provider.Name(), Classify(err))
}

var _ models.AIProvider = (*Generator)(nil)
