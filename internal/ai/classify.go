package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Classify maps a provider failure onto the package's sentinel errors so
// callers can tell a transient outage from a rejected request.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInferenceTimeout) || errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrInvalidRequest) {
		return err
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(reqErr.HTTPStatusCode, err)
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return ClassifyStatus(gErr.Code, err)
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return ClassifyStatus(gErrPtr.Code, err)
	}
	return ClassifyTransport(err)
}

// ClassifyTransport maps a transport-level failure to ErrInferenceTimeout or
// ErrProviderUnavailable.
func ClassifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// ClassifyStatus maps an HTTP status returned by a provider API.
func ClassifyStatus(code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %v", ErrInferenceTimeout, code, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d: %v", ErrProviderUnavailable, code, err)
	case code >= 400:
		return fmt.Errorf("%w: status %d: %v", ErrInvalidRequest, code, err)
	default:
		return ClassifyTransport(err)
	}
}
