// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides OpenRouter integration for cloud LLM inference.
//
// OpenRouter provides access to multiple LLM providers through a single API.
// This package implements the client for OpenRouter's chat completion and
// model list endpoints.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	userAgent = "echo/0.1"
)

// sharedTransport pools connections across clients.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// chatResponse represents a response from the chat completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	apiErrorResponse
}

// modelsResponse is the internal response structure for listing models.
type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// OpenRouterClient talks to the OpenRouter HTTP API directly.
type OpenRouterClient struct {
	apiKey   string
	baseURL  string
	siteURL  string
	siteName string

	// httpClient carries the request timeout; streamClient has none and
	// is bounded only by the caller's context.
	httpClient   *http.Client
	streamClient *http.Client

	logger *slog.Logger
}

var _ Provider = (*OpenRouterClient)(nil)

// NewOpenRouterClient creates a new OpenRouter client with the given API key.
//
// If the API key is empty the client is still created, but completion
// requests fail with ErrNotConfigured.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultOpenRouterURL,
		httpClient:   &http.Client{Timeout: DefaultTimeout, Transport: sharedTransport},
		streamClient: &http.Client{Transport: sharedTransport},
		logger:       slog.Default(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouterClient) WithBaseURL(url string) *OpenRouterClient {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *OpenRouterClient) WithTimeout(timeout time.Duration) *OpenRouterClient {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithSiteURL sets the HTTP-Referer attribution header.
func (c *OpenRouterClient) WithSiteURL(url string) *OpenRouterClient {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title attribution header.
func (c *OpenRouterClient) WithSiteName(name string) *OpenRouterClient {
	c.siteName = name
	return c
}

// WithLogger sets the logger for request diagnostics.
func (c *OpenRouterClient) WithLogger(logger *slog.Logger) *OpenRouterClient {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *OpenRouterClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// readResponse reads a body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func (c *OpenRouterClient) newChatRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	return httpReq, nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// Complete performs a non-streaming chat completion.
func (c *OpenRouterClient) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req.Stream = false
	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	c.logger.Debug("chat completion",
		slog.String("model", req.Model),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	if chatResp.Error != nil {
		return nil, &RemoteError{Code: chatResp.code(), Message: chatResp.Error.Message, Status: resp.StatusCode}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &RemoteError{Status: resp.StatusCode, Message: "response contained no choices"}
	}

	choice := chatResp.Choices[0]
	return &Completion{
		ID:               chatResp.ID,
		Model:            chatResp.Model,
		Content:          choice.Message.Content,
		FinishReason:     choice.FinishReason,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels retrieves the list of available models from OpenRouter.
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to parse models response: %v", err)}
	}

	models := make([]ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, m)
	}
	return models, nil
}
