// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for echo.
//
// # Key Types
//
//   - Config: Main configuration structure with all sections
//   - CloudConfig: Remote completion endpoint, credential and model defaults
//   - StorageConfig: Location of the chat database
//   - ChatConfig: System prompt, history window and streaming toggle
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OPENROUTER_API_KEY, ECHO_*, DB_PATH)
//   - $ECHO_HOME/config.toml or ~/.echo/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dbPath, _ := cfg.DatabasePath()
package config
