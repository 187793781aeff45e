// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// FreeSuffix marks zero-cost model variants on OpenRouter.
const FreeSuffix = ":free"

// ModelDescriptor describes a model offered by the remote API. It is
// fetched per session and never persisted.
type ModelDescriptor struct {
	// ID is the model identifier used in API calls
	ID string `json:"id"`

	// Label is the human-readable display name
	Label string `json:"label"`

	Description string `json:"description,omitempty"`

	// ContextLength is the context window in tokens, 0 when unknown
	ContextLength int `json:"context_length,omitempty"`

	// Prices are in dollars per token; negative when unknown
	PromptPrice     float64 `json:"prompt_price"`
	CompletionPrice float64 `json:"completion_price"`
}

// DisplayName returns the label, falling back to the ID.
func (m ModelDescriptor) DisplayName() string {
	if m.Label != "" {
		return m.Label
	}
	return m.ID
}

// IsFree reports whether the model is billed at zero.
func (m ModelDescriptor) IsFree() bool {
	if strings.HasSuffix(m.ID, FreeSuffix) {
		return true
	}
	return m.PromptPrice == 0 && m.CompletionPrice == 0
}

// CostString returns the prompt/completion price per million tokens.
func (m ModelDescriptor) CostString() string {
	if m.IsFree() {
		return "Free"
	}
	if m.PromptPrice < 0 || m.CompletionPrice < 0 {
		return "?"
	}
	return fmt.Sprintf("$%.2f/$%.2f per 1M", m.PromptPrice*1e6, m.CompletionPrice*1e6)
}

// ContextString returns a formatted context window string.
func (m ModelDescriptor) ContextString() string {
	switch {
	case m.ContextLength <= 0:
		return "-"
	case m.ContextLength >= 1000000:
		return fmt.Sprintf("%.1fM", float64(m.ContextLength)/1000000)
	case m.ContextLength >= 1000:
		return fmt.Sprintf("%dK", m.ContextLength/1000)
	default:
		return fmt.Sprintf("%d", m.ContextLength)
	}
}
