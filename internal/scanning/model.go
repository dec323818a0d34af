package scanning

import "context"

// Request is a single prompt, optionally with images, sent to a model
type Request struct {
	Prompt    string
	Images    []Image
	MaxTokens int
}

// Model defines the interface for sending one request to an external model
type Model interface {
	// Send issues the request and returns the raw response text. Failures are
	// ErrNoAPIKey, *NetworkError, *HTTPError or ErrMalformedResponse.
	Send(ctx context.Context, apiKey string, req Request) (string, error)
	// Close releases any resources held by the model client
	Close() error
}
