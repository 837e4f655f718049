package ai

import "errors"

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	// ErrInvalidRequest means the provider rejected the call itself: bad
	// key, unknown model or oversized input.
	ErrInvalidRequest = errors.New("ai provider rejected request")
)
