package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/cvscreen/internal/ai"
	"github.com/kiranshivaraju/cvscreen/internal/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Defaults(t *testing.T) {
	p := mock.NewMockProvider()
	assert.Equal(t, "mock", p.Name())

	out, err := p.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Contains(t, out, `"score"`)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], mock.Dimensions)

	assert.Equal(t, 1, p.GenerateCalls())
	assert.Equal(t, 1, p.EmbedCalls())
}

func TestHashEmbed_Deterministic(t *testing.T) {
	a := mock.HashEmbed([]string{"rubric"})
	b := mock.HashEmbed([]string{"rubric"})
	c := mock.HashEmbed([]string{"other"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFailingProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewFailingProvider(boom)

	_, err := p.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, err = p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutProvider(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, "x")
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
}
