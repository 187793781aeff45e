// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"strconv"

	"github.com/jeranaias/echo/internal/model"
)

// Provider is a chat completion back-end. Implementations never retry;
// retry policy belongs to the caller.
type Provider interface {
	// Complete blocks until the full reply is available.
	Complete(ctx context.Context, req ChatRequest) (*Completion, error)

	// Stream starts a streaming completion. Errors before the first byte
	// of the body (auth, rate limit, HTTP status) are returned here;
	// failures after that are reported by the stream.
	Stream(ctx context.Context, req ChatRequest) (FragmentStream, error)

	// ListModels returns the models offered by the API in remote order.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// FragmentStream is a lazy, finite, non-restartable sequence of reply
// fragments. Next advances to the next non-empty fragment. When Next
// returns false the stream is over: Err is nil for a clean end, or a
// *StreamError carrying whatever text arrived before the failure.
type FragmentStream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// FromHistory converts persisted messages into request messages.
func FromHistory(msgs []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// ChatRequest describes one completion call.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`

	// Temperature is sent only when non-nil so that 0 can be requested.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Completion is the result of a non-streaming call.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string

	PromptTokens     int
	CompletionTokens int
}

// Pricing represents the pricing information for a model.
type Pricing struct {
	Prompt     string `json:"prompt"`     // Cost per token for prompts
	Completion string `json:"completion"` // Cost per token for completions
}

// ModelInfo represents information about an available model.
type ModelInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ContextSize int     `json:"context_length"`
	Pricing     Pricing `json:"pricing"`
}

// Descriptor converts the wire form into a model.ModelDescriptor.
// Prices that are missing or unparseable become -1.
func (m ModelInfo) Descriptor() model.ModelDescriptor {
	return model.ModelDescriptor{
		ID:              m.ID,
		Label:           m.Name,
		Description:     m.Description,
		ContextLength:   m.ContextSize,
		PromptPrice:     parsePrice(m.Pricing.Prompt),
		CompletionPrice: parsePrice(m.Pricing.Completion),
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return -1
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return -1
	}
	return v
}
