// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
//
// Subcommands:
//
//	show (default)      Display the effective configuration (key masked)
//	get <key>           Print one value
//	set <key> <value>   Change a value in the config file
//	keys                List every key
//	path                Show the config file location
//
// Examples:
//
//	echo config set cloud.default_model anthropic/claude-sonnet-4
//	echo config set chat.history_pairs 20
//	echo config set cloud.api_key sk-or-xxx
//	echo config get chat.streaming
//
// "show" and "get" report the effective values, environment overrides
// included; "set" edits only the file.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/echo/internal/config"
)

const apiKeyField = "cloud.api_key"

// runConfig handles the config command. It needs no database or network.
func runConfig(w io.Writer, cfg *config.Config, args []string) error {
	p := NewArgParser(args)
	sub := strings.ToLower(p.Positional(0))
	if sub == "" {
		sub = "show"
	}

	switch sub {
	case "show":
		return toml.NewEncoder(w).Encode(cfg.Redacted())

	case "get":
		key := p.Positional(1)
		if key == "" {
			return usageErr("config", "config get <key>", "key is required")
		}
		src := cfg
		if strings.EqualFold(key, apiKeyField) {
			src = cfg.Redacted()
		}
		v, err := src.Get(key)
		if err != nil {
			return usageErr("config", "config keys", err.Error())
		}
		fmt.Fprintln(w, v)
		return nil

	case "set":
		key, value := p.Positional(1), p.Join(2)
		if key == "" || p.PositionalCount() < 3 {
			return usageErr("config", "config set <key> <value>", "key and value are required")
		}
		return setConfigValue(w, key, value)

	case "keys":
		for _, k := range config.AllKeys() {
			fmt.Fprintln(w, k)
		}
		return nil

	case "path":
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, path)
		return nil

	default:
		return usageErr("config", "config [show|get|set|keys|path]", fmt.Sprintf("unknown subcommand %q", sub))
	}
}

// setConfigValue edits the config file as written, without baking
// environment overrides into it.
func setConfigValue(w io.Writer, key, value string) error {
	file, err := config.LoadFile()
	if err != nil {
		return err
	}
	if err := file.Set(key, value); err != nil {
		return usageErr("config", "config keys", err.Error())
	}
	if err := file.Validate(); err != nil {
		return err
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.Save(file); err != nil {
		return err
	}

	shown := value
	if strings.EqualFold(key, apiKeyField) {
		shown = fmt.Sprintf("[REDACTED, length=%d]", len(value))
	}
	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, shown)
	return nil
}
