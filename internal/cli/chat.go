// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive multi-room chat.
//
// Commands available in chat mode:
//
//	/rooms              List rooms
//	/new <name>         Create a room and switch to it
//	/use <room>         Switch rooms
//	/rename <name>      Rename the current room
//	/rm [room]          Delete a room (default: current)
//	/clear [--all]      Clear the current room
//	/model [id]         Show or switch the model
//	/models [--free]    List models
//	/history            Show the current room's messages
//	/help               Show commands
//	/quit               Exit
//
// Ctrl+C cancels the reply in progress; Ctrl+D exits.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/echo/internal/config"
	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/session"
	"github.com/jeranaias/echo/internal/util"
)

// defaultRoomName is used when chat starts with no rooms at all.
const defaultRoomName = "General"

// lineReader reads one line of input after showing prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// =============================================================================
// LINE EDITING
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "input_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line of input. Non-blank lines are added to history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history, readable by the owner only.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT LOOP
// =============================================================================

// chatSession is the state of one interactive chat.
type chatSession struct {
	app  *App
	in   lineReader
	room model.Room // zero when no room is selected
}

// runChat starts interactive chat, optionally in the named room.
func (a *App) runChat(ctx context.Context, args []string) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C outside the prompt cancels the reply in progress.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if id, ok := a.Session.ActiveRoom(); ok && a.Session.Cancel(id) {
				fmt.Fprintln(a.Err, "\n"+WarningStyle.Render("[Canceled]"))
			}
		}
	}()

	return a.chatLoop(ctx, input, NewArgParser(args).Join(0))
}

// chatLoop runs the read-send loop until EOF, Ctrl+C at the prompt or /quit.
func (a *App) chatLoop(ctx context.Context, in lineReader, roomRef string) error {
	s := &chatSession{app: a, in: in}
	if err := s.enter(ctx, roomRef); err != nil {
		return err
	}
	s.printWelcome()

	for {
		line, err := in.Prompt(s.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(a.Out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cont, err := s.command(ctx, line)
			if err != nil {
				DisplayError(a.Err, err)
			}
			if !cont {
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		if err := s.say(ctx, line); err != nil {
			DisplayError(a.Err, err)
		}
	}
}

// enter selects the starting room: ref if given, else the newest room,
// else a new default room.
func (s *chatSession) enter(ctx context.Context, ref string) error {
	if ref != "" {
		return s.use(ctx, ref)
	}

	rooms, err := s.app.Session.ListRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) > 0 {
		return s.use(ctx, rooms[0].ID)
	}

	room, err := s.app.Session.CreateRoom(ctx, defaultRoomName)
	if err != nil {
		return err
	}
	s.room = room
	return nil
}

func (s *chatSession) use(ctx context.Context, ref string) error {
	room, err := s.app.resolveRoom(ctx, ref)
	if err != nil {
		return err
	}
	if room, err = s.app.Session.SelectRoom(ctx, room.ID); err != nil {
		return err
	}
	s.room = room
	return nil
}

// promptNameRunes bounds the room name shown in the prompt.
const promptNameRunes = 24

func (s *chatSession) prompt() string {
	if s.room.ID == "" {
		return "echo> "
	}
	return util.TruncateRunes(s.room.Name, promptNameRunes) + "> "
}

// say sends one message in the current room.
func (s *chatSession) say(ctx context.Context, text string) error {
	if s.room.ID == "" {
		return errors.New("no room selected; use /new <name> or /use <room>")
	}

	_, err := s.app.send(ctx, s.room.ID, text, false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		// The signal handler already reported it.
		return nil
	case errors.Is(err, model.ErrNotFound):
		s.room = model.Room{}
		return err
	}
	return s.app.settleFailure(ctx, s.room.ID, err, s.confirm)
}

// confirm asks a yes/no question, defaulting to no.
func (s *chatSession) confirm(question string) bool {
	answer, err := s.in.Prompt(question + " [y/N] ")
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command runs a slash command. It returns false when chat should end.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	a := s.app

	switch cmd {
	case "/help", "/h", "/?", "/":
		printChatHelp(a.Out)

	case "/quit", "/q", "/exit":
		return false, nil

	case "/rooms", "/r":
		rooms, err := a.roomData(ctx, s.room.ID)
		if err != nil {
			return true, err
		}
		printRooms(a.Out, rooms)

	case "/new":
		if len(args) == 0 {
			return true, usageErr("/new", "", "usage: /new <name>")
		}
		room, err := a.Session.CreateRoom(ctx, strings.Join(args, " "))
		if err != nil {
			return true, err
		}
		s.room = room
		fmt.Fprintf(a.Out, "%s Switched to new room %s\n", SuccessStyle.Render("[OK]"), room.Name)

	case "/use", "/switch":
		if len(args) == 0 {
			return true, usageErr("/use", "", "usage: /use <room>")
		}
		if err := s.use(ctx, strings.Join(args, " ")); err != nil {
			return true, err
		}
		fmt.Fprintf(a.Out, "%s Switched to %s\n", SuccessStyle.Render("[OK]"), s.room.Name)

	case "/rename":
		if s.room.ID == "" || len(args) == 0 {
			return true, usageErr("/rename", "", "usage: /rename <name> (in a room)")
		}
		room, err := a.Session.RenameRoom(ctx, s.room.ID, strings.Join(args, " "))
		if err != nil {
			return true, err
		}
		s.room = room
		fmt.Fprintf(a.Out, "%s Renamed to %s\n", SuccessStyle.Render("[OK]"), room.Name)

	case "/rm", "/delete":
		target := s.room
		if len(args) > 0 {
			room, err := a.resolveRoom(ctx, strings.Join(args, " "))
			if err != nil {
				return true, err
			}
			target = room
		}
		if target.ID == "" {
			return true, usageErr("/rm", "", "usage: /rm <room>")
		}
		if !s.confirm(fmt.Sprintf("Delete room %s and all its messages?", target.Name)) {
			return true, nil
		}
		if _, err := a.Session.DeleteRoom(ctx, target.ID); err != nil {
			return true, err
		}
		fmt.Fprintf(a.Out, "%s Deleted %s\n", SuccessStyle.Render("[OK]"), target.Name)
		if target.ID == s.room.ID {
			s.room = model.Room{}
		}

	case "/clear", "/c":
		if s.room.ID == "" {
			return true, errors.New("no room selected")
		}
		all := len(args) > 0 && args[0] == "--all"
		n, err := a.Session.ClearRoom(ctx, s.room.ID, all)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(a.Out, "%s Cleared %d messages\n", SuccessStyle.Render("[OK]"), n)

	case "/model", "/m":
		if len(args) == 0 {
			fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Model:"), ActiveStyle.Render(a.Session.Model()))
			return true, nil
		}
		if err := a.Session.SetModel(ctx, args[0]); err != nil {
			return true, err
		}
		a.Logger.Info("model changed", slog.String("model", args[0]))
		fmt.Fprintf(a.Out, "%s Model set to %s\n", SuccessStyle.Render("[OK]"), args[0])

	case "/models":
		return true, a.runModels(ctx, args)

	case "/history":
		if s.room.ID == "" {
			return true, errors.New("no room selected")
		}
		msgs, err := a.Session.History(ctx, s.room.ID)
		if err != nil {
			return true, err
		}
		printHistory(a.Out, msgs)

	default:
		if guess := suggest(cmd, chatCommandNames); guess != "" {
			return true, fmt.Errorf("unknown command: %s (did you mean %s?)", cmd, guess)
		}
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", cmd)
	}
	return true, nil
}

func (s *chatSession) printWelcome() {
	a := s.app
	fmt.Fprintln(a.Out, TitleStyle.Render("echo")+" "+DimStyle.Render(Version))
	fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Room:"), s.room.Name)
	fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Model:"), a.Session.Model())
	if state := a.Session.State(s.room.ID); state != session.Idle {
		fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("State:"), state)
	}
	fmt.Fprintln(a.Out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(a.Out)
}

func printChatHelp(w io.Writer) {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/rooms", "List rooms"},
		{"/new <name>", "Create a room and switch to it"},
		{"/use <room>", "Switch to a room by id, prefix or name"},
		{"/rename <name>", "Rename the current room"},
		{"/rm [room]", "Delete a room"},
		{"/clear [--all]", "Clear the current room"},
		{"/model [id]", "Show or switch the model"},
		{"/models [--free]", "List available models"},
		{"/history", "Show the current room's messages"},
		{"/quit", "Exit chat"},
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %s  %s\n", PromptStyle.Render(fmt.Sprintf("%-18s", c.cmd)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, DimStyle.Render("Ctrl+C cancels the reply in progress, Ctrl+D exits."))
	fmt.Fprintln(w)
}
