// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Health checks for echo.
//
// Command: doctor [--json]
//
// Checks, in order:
//   - config file is valid
//   - config directory is writable
//   - chat database opens and answers queries
//   - an API key is configured
//   - the API accepts the key
//   - the default model exists in the catalog

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/config"
	"github.com/jeranaias/echo/internal/model"
)

// doctorTimeout bounds each network check.
const doctorTimeout = 15 * time.Second

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the styled marker for the status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck is the result of one check.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested command or instruction
}

// Render formats the check for the terminal.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + DimStyle.Render("     -> "+c.Fix)
	}
	return result
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

// runDoctor runs every check and reports the results.
func (a *App) runDoctor(ctx context.Context, args []string) error {
	p := NewArgParser(args, "json")
	checks := a.runAllChecks(ctx)

	var data DoctorData
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			data.Passed++
		case CheckWarn:
			data.Warned++
		case CheckFail:
			data.Failed++
		}
		data.Checks = append(data.Checks, DoctorCheck{
			Name:    c.Name,
			Status:  c.Status.String(),
			Message: c.Message,
			Fix:     c.Fix,
		})
	}
	data.Healthy = data.Failed == 0

	var failure error
	if data.Failed > 0 {
		failure = fmt.Errorf("%d health check(s) failed", data.Failed)
	}

	if p.BoolFlag("json") {
		resp := NewJSONResponse("doctor", data)
		if failure != nil {
			msg := failure.Error()
			resp.Success = false
			resp.Error = &msg
		}
		if err := resp.Write(a.Out); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(a.Out)
	fmt.Fprintln(a.Out, TitleStyle.Render("echo doctor"))
	fmt.Fprintln(a.Out, RenderSeparator(41))
	for _, c := range checks {
		fmt.Fprintln(a.Out, c.Render())
	}
	fmt.Fprintln(a.Out, RenderSeparator(41))

	summary := []string{fmt.Sprintf("%d passed", data.Passed)}
	if data.Warned > 0 {
		summary = append(summary, WarningStyle.Render(fmt.Sprintf("%d warning", data.Warned)))
	}
	if data.Failed > 0 {
		summary = append(summary, ErrorStyle.Render(fmt.Sprintf("%d failed", data.Failed)))
	}
	fmt.Fprintln(a.Out, strings.Join(summary, ", "))
	fmt.Fprintln(a.Out)

	return failure
}

// runAllChecks runs the checks in order. The API checks are skipped when
// no key is configured.
func (a *App) runAllChecks(ctx context.Context) []*HealthCheck {
	checks := []*HealthCheck{
		checkConfigValid(),
		checkConfigDirWritable(),
		a.checkDatabase(ctx),
	}

	keyCheck := a.checkAPIKey()
	checks = append(checks, keyCheck)
	if keyCheck.Status == CheckFail {
		return checks
	}

	apiCheck := a.checkAPIReachable(ctx)
	checks = append(checks, apiCheck)
	if apiCheck.Status == CheckPass {
		checks = append(checks, a.checkDefaultModel(ctx))
	}
	return checks
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func checkConfigValid() *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}

	path, err := config.ConfigPath()
	if err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Could not determine config path: %s", err)
		return check
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		check.Status = CheckPass
		check.Message = "Config valid (using defaults)"
		return check
	}
	if _, err := config.LoadFromPath(path); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %s", err)
		check.Fix = "Edit " + path + " or remove it to use defaults"
		return check
	}

	check.Status = CheckPass
	check.Message = "Config valid"
	return check
}

func checkConfigDirWritable() *HealthCheck {
	check := &HealthCheck{Name: "Config Dir Writable"}

	dir, err := config.ConfigDir()
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not determine config directory: %s", err)
		return check
	}
	if err := config.EnsureConfigDir(); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not create %s: %s", dir, err)
		check.Fix = "Create it manually: mkdir -p " + dir
		return check
	}

	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("%s is not writable: %s", dir, err)
		check.Fix = "Check permissions: chmod 700 " + dir
		return check
	}
	os.Remove(probe)

	check.Status = CheckPass
	check.Message = "Config directory writable"
	return check
}

func (a *App) checkDatabase(ctx context.Context) *HealthCheck {
	check := &HealthCheck{Name: "Database"}

	rooms, err := a.Store.ListRooms(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Chat database unreadable: %s", err)
		check.Fix = "Check " + a.Store.Path()
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Chat database OK (%d rooms)", len(rooms))
	return check
}

func (a *App) checkAPIKey() *HealthCheck {
	check := &HealthCheck{Name: "API Key"}

	key := strings.TrimSpace(a.Config.Cloud.APIKey)
	switch {
	case key == "":
		check.Status = CheckFail
		check.Message = "No OpenRouter API key configured"
		check.Fix = "Set OPENROUTER_API_KEY or run: echo config set cloud.api_key YOUR_KEY"
	case !strings.HasPrefix(key, "sk-or-"):
		check.Status = CheckWarn
		check.Message = "API key does not look like an OpenRouter key"
		check.Fix = "Get a key from https://openrouter.ai/keys"
	default:
		check.Status = CheckPass
		check.Message = "API key configured"
	}
	return check
}

func (a *App) checkAPIReachable(ctx context.Context) *HealthCheck {
	check := &HealthCheck{Name: "API Reachable"}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	elapsed, err := a.Catalog.Ping(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("API request failed (%s): %s", cloud.Kind(err), err)
		if h := hint(err); h != "" {
			check.Fix = h
		}
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("API reachable at %s (%s)", a.Config.Cloud.BaseURL, elapsed.Round(time.Millisecond))
	return check
}

func (a *App) checkDefaultModel(ctx context.Context) *HealthCheck {
	check := &HealthCheck{Name: "Default Model"}

	id := a.Session.Model()
	if _, err := a.Catalog.Find(ctx, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			check.Status = CheckWarn
			check.Message = fmt.Sprintf("Model %s is not offered by the API", id)
			check.Fix = "Pick one from: echo models, then: echo config set cloud.default_model ID"
			return check
		}
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Could not check model %s: %s", id, err)
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Model %s available", id)
	return check
}
