// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export_cmd.go - Room export command.
//
// Command: export <room> [--format md|json] [--output PATH|-] [--no-system]
//
// Without --output the file is written to the current directory under a
// name built from the room name and the time. "-" writes to stdout.

package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/echo/internal/export"
)

const exportUsage = "export <room> [--format md|json] [--output PATH|-] [--no-system]"

func (a *App) runExport(ctx context.Context, args []string) error {
	p := NewArgParser(args, "no-system")
	if p.PositionalCount() == 0 {
		return usageErr("export", exportUsage, "room is required")
	}

	opts := export.DefaultOptions()
	opts.IncludeSystem = !p.BoolFlag("no-system")
	opts.Output = p.Flag("output")

	exp, err := export.ForFormat(p.Flag("format"), opts)
	if err != nil {
		return err
	}

	room, err := a.resolveRoom(ctx, p.Join(0))
	if err != nil {
		return err
	}
	msgs, err := a.Session.History(ctx, room.ID)
	if err != nil {
		return err
	}
	data, err := exp.Export(room, msgs)
	if err != nil {
		return err
	}

	if opts.Output == "-" {
		_, err := a.Out.Write(data)
		return err
	}
	path, err := export.ToFile(room, exp, data, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Exported %d messages (%s) to %s\n",
		SuccessStyle.Render("[OK]"), len(msgs), humanize.Bytes(uint64(len(data))), path)
	return nil
}
