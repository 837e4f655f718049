// Package models contains shared data models used across the CVScreen codebase.
package models

import "context"

// AIProvider is the core interface that all model integrations must implement.
// Never call specific providers directly; always inject this interface.
type AIProvider interface {
	// Generate sends a single prompt and returns the raw text the model produced.
	Generate(ctx context.Context, prompt string) (string, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string
}
