package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// DefaultGeminiModel is the Gemini model used when none is configured
const DefaultGeminiModel = "gemini-2.5-pro"

// Gemini implements the Model interface using Google Gemini
type Gemini struct {
	modelName string
	opts      []option.ClientOption
}

// NewGemini creates a new Gemini Model instance. The API key is supplied per
// call, so a client is created for each request.
func NewGemini(modelName string, opts ...option.ClientOption) *Gemini {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &Gemini{modelName: modelName, opts: opts}
}

// Send generates content for the prompt and images
func (g *Gemini) Send(ctx context.Context, apiKey string, req Request) (string, error) {
	if apiKey == "" {
		return "", ErrNoAPIKey
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("creating gemini client: %w", err)}
	}
	defer client.Close()

	model := client.GenerativeModel(g.modelName)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	// genai.ImageData expects the format suffix ("jpeg"), not the MIME type
	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		format := strings.TrimPrefix(img.MediaType, "image/")
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, img.Data))
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		slog.Error("Gemini request failed", "model", g.modelName, "error", err)
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrMalformedResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return "", ErrMalformedResponse
	}
	return text.String(), nil
}

// Close is a no-op; clients are closed after each request
func (g *Gemini) Close() error {
	return nil
}

func classifyGeminiError(err error) error {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return &NetworkError{Err: err}
	}

	status := apiErr.HTTPCode()
	if status <= 0 && apiErr.GRPCStatus() != nil {
		status = httpStatusFromCode(apiErr.GRPCStatus().Code())
	}
	if status <= 0 {
		return &NetworkError{Err: err}
	}
	return &HTTPError{StatusCode: status, Body: apiErr.Error()}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded, codes.Canceled:
		return 0
	default:
		return http.StatusInternalServerError
	}
}
