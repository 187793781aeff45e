// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions from the command line.
//
// Usage:
//
//	echo ask <room> <prompt>           stream the reply to stdout
//	echo ask <room> --no-stream <prompt>
//	echo ask <room> --model ID <prompt>
//	echo ask <room> < prompt.txt       read the prompt from stdin
//
// The question and the reply are stored in the room like any chat turn.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jeranaias/echo/internal/session"
)

// maxStdinPrompt bounds prompts read from a pipe.
const maxStdinPrompt = 1 << 20

// runAsk sends one message to a room and prints the reply.
func (a *App) runAsk(ctx context.Context, args []string) error {
	const usage = "ask <room> <prompt> [--no-stream] [--model ID]"

	p := NewArgParser(args, "no-stream")
	if p.PositionalCount() == 0 {
		return usageErr("ask", usage, "room is required")
	}

	room, err := a.resolveRoom(ctx, p.Positional(0))
	if err != nil {
		return err
	}

	prompt := p.Join(1)
	if prompt == "" && !IsTTY() {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinPrompt))
		if err != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return usageErr("ask", usage, "prompt is required")
	}

	if id := p.Flag("model"); id != "" {
		if err := a.Session.SetModel(ctx, id); err != nil {
			return err
		}
	}

	_, err = a.send(ctx, room.ID, prompt, p.BoolFlag("no-stream"))
	if err == nil {
		return nil
	}
	return a.settleFailure(ctx, room.ID, err, nil)
}

// send submits content and writes the reply to a.Out. Streamed replies
// are printed fragment by fragment; complete replies are rendered as
// markdown when the output is a terminal.
func (a *App) send(ctx context.Context, roomID, content string, noStream bool) (*session.Reply, error) {
	streaming := a.Config.Chat.Streaming && !noStream

	var wrote bool
	opts := session.SendOptions{NoStream: !streaming}
	if streaming {
		opts.OnFragment = func(fragment string) {
			wrote = true
			fmt.Fprint(a.Out, fragment)
		}
	}

	reply, err := a.Session.Send(ctx, roomID, content, opts)
	if wrote {
		fmt.Fprintln(a.Out)
	}
	if err != nil {
		return nil, err
	}
	if !streaming {
		displayReply(a.Out, reply.Message.Content, a.markdown)
	}
	return reply, nil
}

// confirmFunc asks the user a yes/no question. nil means non-interactive.
type confirmFunc func(question string) bool

// settleFailure resolves a *session.FailedReply so the room returns to
// Idle. A failed commit is retried once; retained reply text is saved
// when confirm allows it (always when confirm is nil); anything else is
// discarded. The original error is returned unless the retry succeeds.
func (a *App) settleFailure(ctx context.Context, roomID string, err error, confirm confirmFunc) error {
	var failed *session.FailedReply
	if !errors.As(err, &failed) {
		return err
	}

	log := a.Logger.With(slog.String("room", roomID), slog.String("stage", string(failed.Stage)))

	if failed.Stage == session.StageCommit {
		_, rerr := a.Session.RetryCommit(ctx, roomID)
		if rerr == nil {
			fmt.Fprintf(a.Err, "%s reply saved after retry\n", WarningStyle.Render("[WARN]"))
			return nil
		}
		log.Warn("commit retry failed", slog.String("error", rerr.Error()))
	}

	if failed.HasPartial() && (confirm == nil || confirm("Save the partial reply?")) {
		_, cerr := a.Session.CommitPartial(ctx, roomID)
		if cerr == nil {
			fmt.Fprintf(a.Err, "%s reply interrupted; %d fragments saved\n",
				WarningStyle.Render("[WARN]"), failed.Fragments)
			return err
		}
		log.Warn("failed to save partial reply", slog.String("error", cerr.Error()))
	}

	if derr := a.Session.Discard(roomID); derr != nil {
		log.Error("failed to discard reply", slog.String("error", derr.Error()))
	}
	return err
}
