package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when a model call is attempted with an empty key
	ErrNoAPIKey = errors.New("no API key configured, add a model API key in preferences")

	// ErrNoImage is returned when analysis is requested before any image was captured
	ErrNoImage = errors.New("no image captured")

	// ErrInvalidImage wraps every decode/resize/encode failure of a captured image
	ErrInvalidImage = errors.New("could not process the image")

	// ErrMalformedResponse means a 2xx response lacked the expected text content
	ErrMalformedResponse = errors.New("malformed model response")
)

// NetworkError is a transport-level failure talking to the model endpoint
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response; Body is kept verbatim for diagnostics
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Body)
}

// DecodingError means the extracted text was not JSON of the expected shape
type DecodingError struct {
	Detail  string
	Offset  int64
	Snippet string
	Err     error
}

func (e *DecodingError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("failed to parse response: %s (offset %d near %q)", e.Detail, e.Offset, e.Snippet)
	}
	return fmt.Sprintf("failed to parse response: %s", e.Detail)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}
