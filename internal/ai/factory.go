package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/cvscreen/internal/ai/gemini"
	"github.com/kiranshivaraju/cvscreen/internal/ai/openai"
	"github.com/kiranshivaraju/cvscreen/internal/config"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// NewProvider constructs the configured provider wrapped in a Generator that
// enforces the inference timeout. Called once at startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (*Generator, error) {
	var (
		p   models.AIProvider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p = openai.NewProvider(openai.Config{
			Name:           "openai",
			BaseURL:        cfg.OpenAI.BaseURL,
			APIKey:         cfg.OpenAI.APIKey,
			Model:          cfg.OpenAI.Model,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
			Temperature:    cfg.Temperature,
		})
	case "ollama":
		p = openai.NewProvider(openai.Config{
			Name:           "ollama",
			BaseURL:        cfg.Ollama.BaseURL,
			Model:          cfg.Ollama.Model,
			EmbeddingModel: cfg.Ollama.EmbeddingModel,
			Temperature:    cfg.Temperature,
		})
	case "vllm":
		p = openai.NewProvider(openai.Config{
			Name:           "vllm",
			BaseURL:        cfg.VLLM.BaseURL,
			APIKey:         cfg.VLLM.APIKey,
			Model:          cfg.VLLM.Model,
			EmbeddingModel: cfg.VLLM.EmbeddingModel,
			Temperature:    cfg.Temperature,
		})
	case "gemini", "vertex":
		p, err = gemini.NewProvider(ctx, gemini.Config{
			Vertex:         cfg.Provider == "vertex",
			APIKey:         cfg.Gemini.APIKey,
			Project:        cfg.Gemini.Project,
			Location:       cfg.Gemini.Location,
			Model:          cfg.Gemini.Model,
			EmbeddingModel: cfg.Gemini.EmbeddingModel,
			Temperature:    cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, ollama, vllm, gemini, vertex", cfg.Provider)
	}
	return NewGenerator(p, cfg.InferenceTimeout), nil
}
