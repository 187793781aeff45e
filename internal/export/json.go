// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/echo/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// Document is the JSON export layout.
type Document struct {
	Room     model.Room      `json:"room"`
	Exported time.Time       `json:"exported"`
	Messages []model.Message `json:"messages"`
}

// JSONExporter exports the room and every stored message. It ignores the
// Markdown filtering options so the output mirrors the database.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts the room to indented JSON.
func (e *JSONExporter) Export(room model.Room, msgs []model.Message) ([]byte, error) {
	if room.ID == "" {
		return nil, &model.ValidationError{Field: "room", Message: "room has no id"}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	data, err := json.MarshalIndent(Document{
		Room:     room,
		Exported: e.options.now().UTC(),
		Messages: msgs,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
