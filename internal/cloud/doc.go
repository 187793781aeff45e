// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides OpenRouter integration for cloud LLM inference.
//
// # Key Types
//
//   - Provider: Complete, Stream and ListModels against one API
//   - OpenRouterClient: Direct HTTP + SSE implementation
//   - SDKClient: The same API reached through the openai-go SDK
//   - FragmentStream: Pull-based sequence of reply fragments
//
// # Usage
//
//	client := cloud.NewOpenRouterClient(apiKey)
//	stream, err := client.Stream(ctx, cloud.ChatRequest{
//	    Model:    "openai/gpt-4.1",
//	    Messages: []cloud.ChatMessage{{Role: "user", Content: "Hello"}},
//	})
//	if err != nil {
//	    return err
//	}
//	text, err := cloud.Collect(stream, func(frag string) { fmt.Print(frag) })
//
// # Errors
//
// Failures map to ErrAuthFailed, ErrRateLimited (*RateLimitError),
// ErrNetwork or *RemoteError. A stream that fails after delivering text
// reports a *StreamError holding that partial text. Nothing is retried.
package cloud
