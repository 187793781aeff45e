// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup.go - First-run setup wizard.
//
// Command: setup
//
// Asks for the API key, default model and streaming preference, checks
// the key against the API and writes the config file. Values already in
// the file are offered as defaults; pressing Enter keeps them.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/config"
)

// setupCheckTimeout bounds the key check.
const setupCheckTimeout = 20 * time.Second

// wizard holds the wizard's input and output.
type wizard struct {
	in  *bufio.Reader
	out io.Writer

	// readSecret reads a line without echo.
	readSecret func() (string, error)
}

func newWizard(in io.Reader, out io.Writer) *wizard {
	w := &wizard{in: bufio.NewReader(in), out: out}
	w.readSecret = w.line
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w.readSecret = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			return strings.TrimSpace(string(b)), err
		}
	}
	return w
}

// runSetup walks through the basic settings and saves them.
func runSetup(ctx context.Context, in io.Reader, out io.Writer, logger *slog.Logger) error {
	file, err := config.LoadFile()
	if err != nil {
		return err
	}
	w := newWizard(in, out)

	fmt.Fprintln(out, TitleStyle.Render("echo setup"))
	fmt.Fprintln(out, RenderSeparator(41))

	keyPrompt := "OpenRouter API key"
	if file.Cloud.APIKey != "" {
		keyPrompt += " (Enter keeps the current key)"
	}
	fmt.Fprint(out, keyPrompt+": ")
	key, err := w.readSecret()
	if err != nil && err != io.EOF {
		return err
	}
	if key != "" {
		file.Cloud.APIKey = key
	}

	file.Cloud.DefaultModel = w.promptWithDefault("Default model", file.Cloud.DefaultModel)
	file.Chat.Streaming = w.promptYesNo("Stream replies as they arrive?", file.Chat.Streaming)

	if err := file.Validate(); err != nil {
		return err
	}

	if file.Cloud.APIKey != "" {
		if err := verifyKey(ctx, file.Cloud, logger); err != nil {
			DisplayError(out, err)
			if !w.promptYesNo("Save anyway?", false) {
				return err
			}
		} else {
			fmt.Fprintf(out, "%s API key accepted\n", SuccessStyle.Render("[OK]"))
		}
	}

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.Save(file); err != nil {
		return err
	}
	path, _ := config.ConfigPath()
	fmt.Fprintf(out, "%s Saved %s\n", SuccessStyle.Render("[OK]"), path)
	fmt.Fprintln(out, DimStyle.Render("Start chatting with: echo chat"))
	return nil
}

// verifyKey lists models with cfg to confirm the key works.
func verifyKey(ctx context.Context, cfg config.CloudConfig, logger *slog.Logger) error {
	provider, err := cloud.New(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, setupCheckTimeout)
	defer cancel()
	_, err = provider.ListModels(ctx)
	return err
}

// =============================================================================
// INPUT HELPERS
// =============================================================================

func (w *wizard) line() (string, error) {
	s, err := w.in.ReadString('\n')
	return strings.TrimSpace(s), err
}

// promptWithDefault reads a value, returning def on empty input.
func (w *wizard) promptWithDefault(prompt, def string) string {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	input, _ := w.line()
	if input == "" {
		return def
	}
	return input
}

// promptYesNo reads a yes/no answer, returning def on empty input.
func (w *wizard) promptYesNo(prompt string, def bool) bool {
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(w.out, "%s %s: ", prompt, suffix)

	input, _ := w.line()
	switch strings.ToLower(input) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}
