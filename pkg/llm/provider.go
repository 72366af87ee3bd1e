package llm

import (
	"context"
	"io"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a streaming chat completion request and returns the raw
	// server-sent-event body, unparsed, so it can be relayed byte for byte.
	// The caller must close it.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// Timeout bounds connection setup and the wait for response headers.
	// Streams themselves are bounded only by the request context.
	Timeout time.Duration
}
