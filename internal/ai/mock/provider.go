package mock

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/kiranshivaraju/cvscreen/internal/ai"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

// Dimensions is the vector size of the default Embed.
const Dimensions = 8

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	EmbedFunc    func(ctx context.Context, texts []string) ([][]float32, error)

	generateCalls atomic.Int64
	embedCalls    atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	m.generateCalls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.embedCalls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return HashEmbed(texts), nil
}

// GenerateCalls and EmbedCalls count invocations.
func (m *MockProvider) GenerateCalls() int { return int(m.generateCalls.Load()) }
func (m *MockProvider) EmbedCalls() int    { return int(m.embedCalls.Load()) }

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return `{"score": 0.5, "feedback": "Mock feedback for testing"}`, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
		EmbedFunc: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
		EmbedFunc: func(ctx context.Context, _ []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ai.ErrInferenceTimeout
		},
	}
}

// HashEmbed derives a deterministic vector from each text, so equal texts
// always land on the same point.
func HashEmbed(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, Dimensions)
		for j := range v {
			h := fnv.New32a()
			h.Write([]byte{byte(j)})
			h.Write([]byte(t))
			v[j] = float32(h.Sum32()%1000)/1000 + 0.001
		}
		out[i] = v
	}
	return out
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
