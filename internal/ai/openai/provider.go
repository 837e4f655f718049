// Package openai implements models.AIProvider against any OpenAI-compatible
// API. Ollama and vLLM are reached through their /v1 endpoints.
package openai

import (
	"context"
	"fmt"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

type Config struct {
	// Name is reported by Provider.Name (openai, ollama, vllm).
	Name           string
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
}

// Provider implements models.AIProvider using the chat completions and
// embeddings endpoints.
type Provider struct {
	client *goopenai.Client
	cfg    Config
}

func NewProvider(cfg Config) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	return &Provider{client: goopenai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

var _ models.AIProvider = (*Provider)(nil)
