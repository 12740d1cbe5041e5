package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/dirscrape/models"
)

// Client is a lightweight OpenAI-compatible API client for selector inference.
// It uses net/http directly; no third-party SDK needed.
type Client struct {
	httpClient   *http.Client
	params       Params
	sampleTokens int
}

// Params holds LLM configuration. Per-request values (BYOK) override the
// client's defaults via WithParams.
type Params struct {
	APIKey  string
	Model   string
	BaseURL string // e.g. "https://api.openai.com/v1"
}

// InferRequest describes one inference call.
type InferRequest struct {
	URL    string
	HTML   string
	Schema *models.Schema

	// DetailLinkField, for listing inference, names the field that must
	// carry each entry's detail page URL.
	DetailLinkField string

	// Detail asks for selectors for a single-record detail page.
	Detail bool
}

// NewClient creates a new LLM client with the given http.Client.
// Pass nil to use a client with a 90s timeout.
func NewClient(httpClient *http.Client, params Params, sampleTokens int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{httpClient: httpClient, params: params, sampleTokens: sampleTokens}
}

// WithParams returns a copy of the client whose non-empty params override
// the defaults.
func (c *Client) WithParams(p Params) *Client {
	cp := *c
	if p.APIKey != "" {
		cp.params.APIKey = p.APIKey
	}
	if p.Model != "" {
		cp.params.Model = p.Model
	}
	if p.BaseURL != "" {
		cp.params.BaseURL = p.BaseURL
	}
	return &cp
}

// Configured reports whether the client has a credential to call with.
func (c *Client) Configured() bool {
	return c.params.APIKey != ""
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatErrorResponse captures an API error from the LLM provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// InferSelectors sketches the sample page, asks the model for selectors and
// validates the answer. Every failure is a fatal inference error; the client
// never retries.
func (c *Client) InferSelectors(ctx context.Context, req InferRequest) (*models.SelectorMap, error) {
	if c.params.APIKey == "" {
		return nil, models.NewScrapeError(models.ErrCodeLLMAuthFailure, "no LLM API key configured", nil)
	}

	sketch, info := Sketch(req.HTML, c.sampleTokens)
	slog.Debug("page sketched for inference",
		"url", req.URL,
		"kind", info.Kind,
		"items", info.Count,
		"original_tokens", info.OriginalTokens,
		"sketch_tokens", info.SketchTokens,
	)

	system := listingSystemPrompt
	if req.Detail {
		system = detailSystemPrompt
	}

	reqBody := chatRequest{
		Model: c.params.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: buildUserPrompt(req, sketch, info)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// Build URL: baseURL + /chat/completions
	endpoint := strings.TrimRight(c.params.BaseURL, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, "failed to build LLM request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.params.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewScrapeError(models.ErrCodeInference, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, "failed to read LLM response", err)
	}

	// Handle error status codes.
	if resp.StatusCode != http.StatusOK {
		return nil, classifyLLMError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInference, "failed to parse LLM response", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeInference, "LLM returned no choices", nil)
	}

	slog.Info("selectors inferred",
		"url", req.URL,
		"detail", req.Detail,
		"model", c.params.Model,
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return parseSelectors(chatResp.Choices[0].Message.Content, req)
}

// classifyLLMError maps HTTP status codes to appropriate error codes.
func classifyLLMError(statusCode int, body []byte) *models.ScrapeError {
	var errResp chatErrorResponse
	msg := "LLM API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeLLMAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewScrapeError(models.ErrCodeInference, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
