// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for echo commands.
//
// Commands always return errors; Main decides how to show them and which
// exit code to use.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/config"
	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/session"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitConflictError = 6
	ExitNotFoundError = 7
	ExitCanceled      = 130
)

// UsageError reports a malformed command line.
type UsageError struct {
	Command string
	Usage   string
	Reason  string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s\nusage: echo %s", e.Reason, e.Usage)
}

func usageErr(command, usage, reason string) error {
	return &UsageError{Command: command, Usage: usage, Reason: reason}
}

// GetExitCode maps an error onto an exit code.
func GetExitCode(err error) int {
	var (
		usage  *UsageError
		cfgErr config.ValidateErrors
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage), errors.Is(err, model.ErrValidation):
		return ExitUsageError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, cloud.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, cloud.ErrNetwork), errors.Is(err, cloud.ErrRateLimited):
		return ExitNetworkError
	case errors.Is(err, session.ErrConflict):
		return ExitConflictError
	case errors.Is(err, model.ErrNotFound), errors.Is(err, cloud.ErrModelNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	default:
		return ExitGeneralError
	}
}

// hint returns a one-line suggestion for well-known failures.
func hint(err error) string {
	var rl *cloud.RateLimitError
	switch {
	case errors.Is(err, cloud.ErrNotConfigured):
		return "Set OPENROUTER_API_KEY or run: echo config set cloud.api_key <key>"
	case errors.Is(err, cloud.ErrAuthFailed):
		return "Check your OpenRouter API key."
	case errors.As(err, &rl) && rl.RetryAfter > 0:
		return fmt.Sprintf("Try again in %s.", rl.RetryAfter.Round(1e9))
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return "Add credits at https://openrouter.ai/credits or pick a :free model."
	case errors.Is(err, cloud.ErrModelNotFound):
		return "List available models with: echo models"
	case errors.Is(err, session.ErrConflict):
		return "Wait for the current reply to finish."
	}
	return ""
}

// DisplayError prints err and an optional hint to w.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
	if h := hint(err); h != "" {
		fmt.Fprintln(w, DimStyle.Render("  "+h))
	}
}
