// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error variables for common OpenRouter errors.
var (
	// ErrAuthFailed indicates a missing, invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = fmt.Errorf("%w: API key not configured", ErrAuthFailed)

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork indicates a connection failure, an expired deadline or a
	// stream that ended without its terminal marker.
	ErrNetwork = errors.New("network error")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// RemoteError is a structured error returned by the API.
type RemoteError struct {
	Code    string
	Message string
	Status  int // 0 for errors delivered inside a stream
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("OpenRouter error [%s]: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("OpenRouter error: %s", e.Message)
	}
}

// RateLimitError represents a rate limit error with retry information.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the server gave no hint
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StreamError is the terminal error of a FragmentStream. It preserves the
// text received before the failure so the caller can tell "nothing
// arrived" from "N fragments arrived, then the stream broke".
type StreamError struct {
	Fragments int    // Number of fragments delivered before the error
	Partial   string // Concatenation of those fragments
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Fragments > 0 {
		return fmt.Sprintf("stream error after %d fragments (%d chars): %v", e.Fragments, len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// apiErrorResponse represents an error body from the API. OpenRouter
// sends the code as a number for HTTP errors and as a string inside
// streams, so it is decoded raw.
type apiErrorResponse struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

func (r apiErrorResponse) code() string {
	if r.Error == nil || len(r.Error.Code) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error.Code, &s); err == nil {
		return s
	}
	return strings.Trim(string(r.Error.Code), `"`)
}

// statusError maps a non-2xx response to the error taxonomy.
func statusError(status int, code, message string, header http.Header) error {
	if message == "" {
		message = http.StatusText(status)
	}
	remote := &RemoteError{Code: code, Message: message, Status: status}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuthFailed, remote)
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header), Message: message}
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrInsufficientCredits, remote)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrModelNotFound, remote)
	default:
		return remote
	}
}

// handleErrorResponse decodes an error body and maps it with statusError.
func handleErrorResponse(status int, header http.Header, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return statusError(status, apiErr.code(), apiErr.Error.Message, header)
	}
	return statusError(status, "", strings.TrimSpace(string(body)), header)
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// transportError classifies a failure to talk to the server. Caller
// cancellation is returned as the context error itself; everything else,
// including an expired deadline, is a network error.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
