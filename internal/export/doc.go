// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a room's history to a file.
//
// # Supported Formats
//
//   - Markdown: readable transcript with YAML front matter
//   - JSON: the room and its messages as stored
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	data, err := exp.Export(room, messages)
//	path, err := export.ToFile(room, exp, data, export.DefaultOptions())
package export
