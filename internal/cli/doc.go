// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the echo command line: one-shot commands for
// rooms, models and configuration, and an interactive multi-room chat.
//
// # Key Types
//
//   - App: the wired store, provider, model catalog and session manager
//   - ArgParser: flag and positional parsing shared by every command
//   - ChatCLI: line editing and input history for interactive chat
//
// # Usage
//
// The binary's main function only calls Main:
//
//	os.Exit(cli.Main(os.Args[1:]))
//
// Main loads the configuration, starts logging, builds an App and runs
// the command. Errors are printed with a hint and mapped to exit codes
// by GetExitCode.
//
// # Commands Overview
//
//   - chat: interactive chat (default)
//   - ask: one message and its reply
//   - rooms, new, rename, rm, clear, history, export: room management
//   - models, ping, doctor: catalog and connectivity
//   - setup, config: configuration
//
// rooms, history, models and doctor accept --json.
package cli
