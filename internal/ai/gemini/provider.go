// Package gemini implements models.AIProvider with the Google Gen AI SDK,
// against either the Gemini API or Vertex AI.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

type Config struct {
	// Vertex selects the Vertex AI backend (Project + Location) instead of
	// the Gemini API (APIKey).
	Vertex         bool
	APIKey         string
	Project        string
	Location       string
	Model          string
	EmbeddingModel string
	Temperature    float32
}

type Provider struct {
	client *genai.Client
	cfg    Config
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Vertex {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{client: client, cfg: cfg}, nil
}

func (p *Provider) Name() string {
	if p.cfg.Vertex {
		return "vertex"
	}
	return "gemini"
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return result.Text(), nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := p.client.Models.EmbedContent(ctx, p.cfg.EmbeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

var _ models.AIProvider = (*Provider)(nil)
