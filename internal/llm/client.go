// Package llm talks to an OpenRouter-compatible chat completions API to
// annotate documents and element batches. The client executes exactly one
// attempt per call and classifies failures as transient or fatal; retry
// policy belongs to the orchestrator.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/paperlens/corpus-builder/internal/domain"
)

const defaultModel = "mistralai/pixtral-large-2411"

// Config holds client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client handles communication with the annotation API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Message represents a chat message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message.
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a completion choice.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient creates a new annotation client.
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AnnotateDocument sends a document-level annotation request and returns the
// raw JSON payload produced by the model.
func (c *Client) AnnotateDocument(ctx context.Context, req domain.DocumentRequest) ([]byte, error) {
	parts := []ContentPart{{Type: "text", Text: documentPrompt(req.DocID, req.FrontText)}}

	for _, path := range req.ImagePaths {
		part, err := imagePart(path)
		if err != nil {
			return nil, domain.AnnotationFatalError(req.DocID, "read page image", err)
		}
		parts = append(parts, part)
	}

	return c.complete(ctx, req.DocID, []Message{{Role: "user", Content: parts}})
}

// AnnotateBatch sends one element batch and returns the raw JSON payload.
func (c *Client) AnnotateBatch(ctx context.Context, req domain.BatchRequest) ([]byte, error) {
	parts := []ContentPart{{Type: "text", Text: batchPrompt(req.Elements)}}

	for _, el := range req.Elements {
		if el.CropPath == "" {
			continue
		}
		part, err := imagePart(el.CropPath)
		if err != nil {
			return nil, domain.AnnotationFatalError(req.BatchID, "read crop image", err)
		}
		parts = append(parts, part)
	}

	return c.complete(ctx, req.BatchID, []Message{{Role: "user", Content: parts}})
}

// complete executes a single chat completion attempt.
func (c *Client) complete(ctx context.Context, unit string, messages []Message) ([]byte, error) {
	body, err := json.Marshal(Request{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, domain.AnnotationFatalError(unit, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.AnnotationFatalError(unit, "build request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "corpus-builder")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.AnnotationTransientError(unit, "send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.AnnotationTransientError(unit, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if isRetryableStatus(resp.StatusCode) {
			return nil, domain.AnnotationTransientError(unit, msg, nil)
		}
		return nil, domain.AnnotationFatalError(unit, msg, nil)
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.AnnotationTransientError(unit, "decode response", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, domain.AnnotationTransientError(unit, "response has no choices", nil)
	}

	return []byte(stripFences(parsed.Choices[0].Message.Content)), nil
}

// isRetryableStatus reports whether an HTTP status indicates a transient
// failure worth retrying.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// imagePart reads an image file into a base64 data URL content part.
func imagePart(path string) (ContentPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ContentPart{}, err
	}

	return ContentPart{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// stripFences removes a wrapping markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
