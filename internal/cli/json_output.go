// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for scripting.
//
// Commands that accept --json wrap their data in a JSONResponse so that
// scripts can tell success from failure without parsing text.

package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/echo/internal/model"
)

// JSONResponse is the envelope for every --json output.
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`

	// Error is the error message when Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is RFC 3339 UTC
	Timestamp string `json:"timestamp"`
	Command   string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w, indented.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// writeJSON runs handler and writes its data, or its error, as a
// JSONResponse. The handler's error is returned either way.
func writeJSON(w io.Writer, command string, handler func() (interface{}, error)) error {
	data, err := handler()
	if err != nil {
		NewJSONErrorResponse(command, err).Write(w)
		return err
	}
	return NewJSONResponse(command, data).Write(w)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// RoomData is one entry of "rooms --json".
type RoomData struct {
	model.Room
	Messages int  `json:"messages"`
	Active   bool `json:"active,omitempty"`
}

// HistoryData is the output of "history --json".
type HistoryData struct {
	Room     model.Room      `json:"room"`
	Messages []model.Message `json:"messages"`
}

// ModelsData is the output of "models --json".
type ModelsData struct {
	Current   string                  `json:"current"`
	FetchedAt time.Time               `json:"fetched_at"`
	Models    []model.ModelDescriptor `json:"models"`
}

// DoctorCheck is one health check in "doctor --json".
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorData is the output of "doctor --json".
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Passed  int           `json:"passed"`
	Warned  int           `json:"warned"`
	Failed  int           `json:"failed"`
	Healthy bool          `json:"healthy"`
}
