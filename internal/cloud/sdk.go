// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// SDKClient reaches the same OpenAI-compatible API through the openai-go
// SDK. SDK retries are disabled.
type SDKClient struct {
	client     openai.Client
	configured bool
	timeout    time.Duration
	logger     *slog.Logger
}

var _ Provider = (*SDKClient)(nil)

// SDKOptions configures an SDKClient.
type SDKOptions struct {
	APIKey   string
	BaseURL  string
	SiteURL  string
	SiteName string

	// Timeout bounds each non-streaming request. Streams are bounded
	// only by the caller's context. Zero means no limit.
	Timeout time.Duration

	// HTTPClient defaults to a client without a timeout of its own.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewSDKClient creates a client on top of openai-go.
func NewSDKClient(opts SDKOptions) *SDKClient {
	apiKey := strings.TrimSpace(opts.APIKey)
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: sharedTransport}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL + "/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", userAgent),
	}
	if strings.TrimSpace(opts.SiteURL) != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", opts.SiteURL))
	}
	if strings.TrimSpace(opts.SiteName) != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", opts.SiteName))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SDKClient{
		client:     openai.NewClient(reqOpts...),
		configured: apiKey != "",
		timeout:    opts.Timeout,
		logger:     logger,
	}
}

func buildParams(req ChatRequest) (openai.ChatCompletionNewParams, error) {
	if strings.TrimSpace(req.Model) == "" {
		return openai.ChatCompletionNewParams{}, errors.New("model is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported role: %s", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

// Complete performs a non-streaming chat completion.
func (c *SDKClient) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, c.requestOpts()...)
	if err != nil {
		return nil, sdkError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &RemoteError{Status: http.StatusOK, Message: "response contained no choices"}
	}

	choice := resp.Choices[0]
	return &Completion{
		ID:               resp.ID,
		Model:            resp.Model,
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Stream performs a streaming chat completion.
func (c *SDKClient) Stream(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, sdkError(ctx, err)
	}
	return &sdkStream{ctx: ctx, stream: stream}, nil
}

// ListModels retrieves the model list. OpenRouter-specific fields are
// read from the raw JSON of each entry.
func (c *SDKClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := c.client.Models.List(ctx, c.requestOpts()...)
	if err != nil {
		return nil, sdkError(ctx, err)
	}

	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID == "" {
			continue
		}
		info := ModelInfo{ID: m.ID}
		if raw := m.RawJSON(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &info); err != nil {
				c.logger.Debug("model entry without extended metadata", slog.String("id", m.ID))
				info = ModelInfo{ID: m.ID}
			}
		}
		models = append(models, info)
	}
	return models, nil
}

// requestOpts returns the per-request options for non-streaming calls.
func (c *SDKClient) requestOpts() []option.RequestOption {
	if c.timeout <= 0 {
		return nil
	}
	return []option.RequestOption{option.WithRequestTimeout(c.timeout)}
}

// sdkStream adapts an SDK stream to FragmentStream.
type sdkStream struct {
	ctx    context.Context
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	current   string
	partial   strings.Builder
	fragments int
	finished  bool
	done      bool
	err       error
}

func (s *sdkStream) Next() bool {
	if s.done {
		return false
	}
	s.current = ""

	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		switch reason := string(choice.FinishReason); reason {
		case "":
		case "error":
			return s.fail(&RemoteError{Message: "stream terminated with finish_reason=error"})
		default:
			s.finished = true
		}
		if content := choice.Delta.Content; content != "" {
			s.current = content
			s.partial.WriteString(content)
			s.fragments++
			return true
		}
	}

	if err := s.stream.Err(); err != nil {
		return s.fail(sdkError(s.ctx, err))
	}
	// The SDK hides the [DONE] marker, so a stream that never reported a
	// finish reason is treated as truncated.
	if !s.finished {
		return s.fail(transportError(s.ctx, io.ErrUnexpectedEOF))
	}
	s.done = true
	return false
}

func (s *sdkStream) Fragment() string { return s.current }

func (s *sdkStream) Err() error { return s.err }

func (s *sdkStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func (s *sdkStream) fail(err error) bool {
	s.err = &StreamError{Fragments: s.fragments, Partial: s.partial.String(), Err: err}
	s.current = ""
	s.done = true
	s.stream.Close()
	return false
}

// sdkError maps SDK errors onto the package taxonomy.
func sdkError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(apiErr.RawJSON())
		}
		return statusError(apiErr.StatusCode, apiErr.Code, msg, header)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	// In-stream error payloads surface as plain errors from the decoder.
	if strings.Contains(err.Error(), "error while streaming") {
		return &RemoteError{Message: err.Error()}
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
