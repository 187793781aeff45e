// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models_cmd.go - Model catalog commands.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/util"
)

const (
	modelContextWidth = 7
	modelCostWidth    = 22
)

// runModels lists the models offered by the API.
//
//	models            cached list
//	models --refresh  refetch (throttled)
//	models --free     zero-cost models only
//	models --json     machine-readable output
func (a *App) runModels(ctx context.Context, args []string) error {
	p := NewArgParser(args, "free", "refresh", "json")
	refresh, freeOnly := p.BoolFlag("refresh"), p.BoolFlag("free") || a.Config.Catalog.FreeOnly

	if p.BoolFlag("json") {
		return writeJSON(a.Out, "models", func() (interface{}, error) {
			models, err := a.loadModels(ctx, refresh, freeOnly)
			if err != nil {
				return nil, err
			}
			return ModelsData{Current: a.Session.Model(), FetchedAt: a.Catalog.FetchedAt(), Models: models}, nil
		})
	}

	models, err := a.loadModels(ctx, refresh, freeOnly)
	if err != nil {
		return err
	}
	printModels(a.Out, models, a.Session.Model())

	if at := a.Catalog.FetchedAt(); !at.IsZero() {
		fmt.Fprintln(a.Out, DimStyle.Render(fmt.Sprintf("%d models, fetched %s", len(models), humanize.Time(at))))
	}
	return nil
}

func (a *App) loadModels(ctx context.Context, refresh, freeOnly bool) ([]model.ModelDescriptor, error) {
	var (
		models []model.ModelDescriptor
		err    error
	)
	if refresh {
		models, err = a.Catalog.Refresh(ctx)
	} else {
		models, err = a.Catalog.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !freeOnly {
		return models, nil
	}

	free := models[:0:0]
	for _, m := range models {
		if m.IsFree() {
			free = append(free, m)
		}
	}
	return free, nil
}

// printModels renders models as a table, marking current.
func printModels(w io.Writer, models []model.ModelDescriptor, current string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models available."))
		return
	}

	idWidth := GetTerminalWidth() - modelContextWidth - modelCostWidth - 6
	if idWidth < 20 {
		idWidth = 20
	}

	for _, m := range models {
		marker := " "
		id := util.PadWidth(m.ID, idWidth)
		if m.ID == current {
			marker = ActiveStyle.Render("*")
			id = ActiveStyle.Render(id)
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n",
			marker,
			id,
			util.PadWidth(m.ContextString(), modelContextWidth),
			DimStyle.Render(m.CostString()))
	}
}

// runPing checks connectivity and credentials by listing models.
func (a *App) runPing(ctx context.Context) error {
	elapsed, err := a.Catalog.Ping(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "%s Connected to %s in %s\n",
		SuccessStyle.Render("[OK]"), a.Config.Cloud.BaseURL, elapsed.Round(time.Millisecond))
	fmt.Fprintf(a.Out, "%s %s\n", RenderLabel("Model:"), a.Session.Model())
	if models, err := a.Catalog.List(ctx); err == nil {
		fmt.Fprintf(a.Out, "%s %d\n", RenderLabel("Models:"), len(models))
	}
	return nil
}
