package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("upstream")
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrInvalidRequest},
		{http.StatusUnauthorized, ErrInvalidRequest},
		{http.StatusNotFound, ErrInvalidRequest},
		{http.StatusRequestTimeout, ErrInferenceTimeout},
		{http.StatusGatewayTimeout, ErrInferenceTimeout},
		{http.StatusTooManyRequests, ErrProviderUnavailable},
		{http.StatusInternalServerError, ErrProviderUnavailable},
		{http.StatusServiceUnavailable, ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.ErrorIs(t, ClassifyStatus(tt.code, cause), tt.want)
		})
	}
}

func TestClassify_SDKErrors(t *testing.T) {
	err := Classify(fmt.Errorf("chat completion: %w", &goopenai.APIError{HTTPStatusCode: 429}))
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	err = Classify(fmt.Errorf("chat completion: %w", &goopenai.RequestError{HTTPStatusCode: 400, Err: errors.New("bad")}))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = Classify(fmt.Errorf("generate content: %w", genai.APIError{Code: 403, Message: "denied"}))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClassify_Transport(t *testing.T) {
	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrInferenceTimeout)
	assert.ErrorIs(t, Classify(errors.New("dial tcp: connection refused")), ErrProviderUnavailable)
	assert.Nil(t, Classify(nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	err := fmt.Errorf("x: %w", ErrInvalidResponse)
	assert.Equal(t, err, Classify(err))
}
