package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultClaudeEndpoint is the messages endpoint of the Anthropic API
	DefaultClaudeEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultClaudeModel is the vision-capable model used when none is configured
	DefaultClaudeModel = "claude-sonnet-4-5-20250929"
	// claudeAPIVersion is sent in the anthropic-version header
	claudeAPIVersion = "2023-06-01"
)

// Claude implements the Model interface against the Anthropic messages API
type Claude struct {
	endpoint string
	model    string
	client   *http.Client
}

// ClaudeOption configures a Claude client
type ClaudeOption func(*Claude)

// WithEndpoint overrides the messages endpoint URL
func WithEndpoint(endpoint string) ClaudeOption {
	return func(c *Claude) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) ClaudeOption {
	return func(c *Claude) { c.client = client }
}

// NewClaude creates a new Claude Model instance
func NewClaude(modelName string, opts ...ClaudeOption) *Claude {
	if modelName == "" {
		modelName = DefaultClaudeModel
	}
	c := &Claude{
		endpoint: DefaultClaudeEndpoint,
		model:    modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision requests with several photos are slow
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// claudeRequest is the request body for the messages API
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage content is either a plain string or a list of content blocks
type claudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type claudeBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// claudeResponse only models the part of the envelope that is consumed
type claudeResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
}

func (c *Claude) buildBody(req Request) claudeRequest {
	var content any = req.Prompt
	if len(req.Images) > 0 {
		blocks := make([]claudeBlock, 0, len(req.Images)+1)
		for _, img := range req.Images {
			mediaType := img.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			blocks = append(blocks, claudeBlock{
				Type: "image",
				Source: &claudeImageSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      img.Base64(),
				},
			})
		}
		blocks = append(blocks, claudeBlock{Type: "text", Text: req.Prompt})
		content = blocks
	}

	return claudeRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		Messages:  []claudeMessage{{Role: "user", Content: content}},
	}
}

// Send posts a single user message and returns content[0].text
func (c *Claude) Send(ctx context.Context, apiKey string, req Request) (string, error) {
	if apiKey == "" {
		return "", ErrNoAPIKey
	}

	jsonData, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	slog.Debug("Calling Claude API", "model", c.model, "images", len(req.Images), "request_bytes", len(jsonData))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		slog.Error("Claude request failed", "error", err)
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}

	slog.Debug("Claude API response", "status", resp.StatusCode, "response_bytes", len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("Claude API error", "status", resp.StatusCode, "body", string(body))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var envelope claudeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(envelope.Content) == 0 || envelope.Content[0].Text == nil {
		return "", ErrMalformedResponse
	}

	return *envelope.Content[0].Text, nil
}

// Close is a no-op for the HTTP client
func (c *Claude) Close() error {
	return nil
}
