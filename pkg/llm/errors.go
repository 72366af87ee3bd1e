package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited is matched by upstream 429 responses.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrPaymentRequired is matched by upstream 402 responses.
	ErrPaymentRequired = errors.New("upstream payment required")
)

// UpstreamError is a non-success response from the model gateway. The body
// is kept verbatim for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is classify rate limiting and billing failures.
func (e *UpstreamError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	}
	return nil
}
