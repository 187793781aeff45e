// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// rooms_cmd.go - Room management commands.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/util"
)

const (
	roomIDWidth    = 8
	roomCountWidth = 6
	roomDateWidth  = 16
)

// runRooms lists every room with its message count.
func (a *App) runRooms(ctx context.Context, args []string) error {
	p := NewArgParser(args, "json")
	active, _ := a.Session.ActiveRoom()

	if p.BoolFlag("json") {
		return writeJSON(a.Out, "rooms", func() (interface{}, error) {
			return a.roomData(ctx, active)
		})
	}

	rooms, err := a.roomData(ctx, active)
	if err != nil {
		return err
	}
	printRooms(a.Out, rooms)
	return nil
}

// roomData lists rooms with their message counts.
func (a *App) roomData(ctx context.Context, active string) ([]RoomData, error) {
	rooms, err := a.Session.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoomData, 0, len(rooms))
	for _, r := range rooms {
		n, err := a.Store.CountMessages(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomData{Room: r, Messages: n, Active: r.ID == active})
	}
	return out, nil
}

func printRooms(w io.Writer, rooms []RoomData) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No rooms yet. Create one with: echo new <name>"))
		return
	}

	// The name column shrinks to the widest name and grows no wider
	// than the terminal allows.
	nameWidth := util.StringWidth("NAME")
	for _, r := range rooms {
		nameWidth = max(nameWidth, util.StringWidth(r.Name))
	}
	nameWidth = min(nameWidth, max(GetTerminalWidth()-roomIDWidth-roomCountWidth-roomDateWidth-8, 12))

	fmt.Fprintf(w, "  %s  %s  %s  %s\n",
		util.PadWidth("ID", roomIDWidth),
		util.PadWidth("NAME", nameWidth),
		util.PadWidth("MSGS", roomCountWidth),
		"CREATED")

	for _, r := range rooms {
		marker := " "
		name := util.PadWidth(r.Name, nameWidth)
		if r.Active {
			marker = ActiveStyle.Render("*")
			name = ActiveStyle.Render(name)
		}

		fmt.Fprintf(w, "%s %s  %s  %s  %s\n",
			marker,
			DimStyle.Render(util.PadWidth(shortID(r.ID), roomIDWidth)),
			name,
			util.PadWidth(fmt.Sprintf("%d", r.Messages), roomCountWidth),
			DimStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
}

// runNew creates a room named by the remaining arguments.
func (a *App) runNew(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	name := p.Join(0)
	if name == "" {
		return usageErr("new", "new <name>", "room name is required")
	}

	room, err := a.Session.CreateRoom(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Created room %s %s\n",
		SuccessStyle.Render("[OK]"), room.Name, DimStyle.Render("("+shortID(room.ID)+")"))
	return nil
}

// runRename renames a room.
func (a *App) runRename(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	if p.PositionalCount() < 2 {
		return usageErr("rename", "rename <room> <name>", "room and new name are required")
	}

	room, err := a.resolveRoom(ctx, p.Positional(0))
	if err != nil {
		return err
	}
	renamed, err := a.Session.RenameRoom(ctx, room.ID, p.Join(1))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Renamed %s to %s\n", SuccessStyle.Render("[OK]"), room.Name, renamed.Name)
	return nil
}

// runDelete deletes a room and its messages.
func (a *App) runDelete(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	if p.PositionalCount() == 0 {
		return usageErr("rm", "rm <room>", "room is required")
	}

	room, err := a.resolveRoom(ctx, p.Join(0))
	if err != nil {
		return err
	}
	if _, err := a.Session.DeleteRoom(ctx, room.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Deleted room %s\n", SuccessStyle.Render("[OK]"), room.Name)
	return nil
}

// runClear removes a room's messages, keeping the system prompt unless
// --all is given.
func (a *App) runClear(ctx context.Context, args []string) error {
	p := NewArgParser(args, "all")
	if p.PositionalCount() == 0 {
		return usageErr("clear", "clear <room> [--all]", "room is required")
	}

	room, err := a.resolveRoom(ctx, p.Join(0))
	if err != nil {
		return err
	}
	n, err := a.Session.ClearRoom(ctx, room.ID, p.BoolFlag("all"))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Cleared %d messages from %s\n", SuccessStyle.Render("[OK]"), n, room.Name)
	return nil
}

// runHistory prints a room's messages in order.
func (a *App) runHistory(ctx context.Context, args []string) error {
	p := NewArgParser(args, "json")
	if p.PositionalCount() == 0 {
		return usageErr("history", "history <room> [--json]", "room is required")
	}

	load := func() (model.Room, []model.Message, error) {
		room, err := a.resolveRoom(ctx, p.Join(0))
		if err != nil {
			return model.Room{}, nil, err
		}
		msgs, err := a.Session.History(ctx, room.ID)
		return room, msgs, err
	}

	if p.BoolFlag("json") {
		return writeJSON(a.Out, "history", func() (interface{}, error) {
			room, msgs, err := load()
			if err != nil {
				return nil, err
			}
			return HistoryData{Room: room, Messages: msgs}, nil
		})
	}

	room, msgs, err := load()
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render(room.Name))
	printHistory(a.Out, msgs)
	return nil
}

// printHistory writes msgs as role-labelled blocks.
func printHistory(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(no messages)"))
		return
	}

	width := GetTerminalWidth()
	for _, m := range msgs {
		fmt.Fprintln(w, RenderSeparator(width))

		header := RoleStyle(m.Role).Render(m.Role.DisplayName())
		meta := m.CreatedAt.Local().Format("2006-01-02 15:04")
		if m.Model != "" {
			meta += "  " + m.Model
		}
		fmt.Fprintf(w, "%s  %s\n", header, DimStyle.Render(meta))
		fmt.Fprintln(w, strings.TrimRight(m.Content, "\n"))
	}
}

// shortID returns the leading part of a room id for display.
func shortID(id string) string {
	if len(id) <= roomIDWidth {
		return id
	}
	return id[:roomIDWidth]
}
