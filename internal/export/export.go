// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a room's history to one output format.
type Exporter interface {
	// Export renders room and its messages, oldest first.
	Export(room model.Room, msgs []model.Message) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string
}

// Formats lists the accepted format names.
var Formats = []string{"md", "json"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, &model.ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("unknown export format %q (use %s)", format, strings.Join(Formats, " or ")),
		}
	}
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is used when Output is empty. Default: current directory.
	OutputDir string

	// Output is the exact file path to write, if set.
	Output string

	// IncludeTimestamps adds per-message times to Markdown.
	IncludeTimestamps bool

	// IncludeSystem keeps system messages in Markdown.
	IncludeSystem bool

	// Now stamps the export. Default: time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeTimestamps: true,
		IncludeSystem:     true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile writes data for room and returns the path written. Without an
// explicit Output the name is derived from the room name and export time.
func ToFile(room model.Room, exp Exporter, data []byte, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	path := opts.Output
	if path == "" {
		dir := opts.OutputDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, Filename(room, exp.FileExtension(), opts.now()))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Filename builds "room_<name>_<timestamp><ext>".
func Filename(room model.Room, ext string, at time.Time) string {
	return fmt.Sprintf("room_%s_%s%s", sanitizeFilename(room.Name), at.Format("20060102_150405"), ext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames on
// Windows or Unix and caps the length at 50 runes.
func sanitizeFilename(s string) string {
	if runes := []rune(strings.TrimSpace(s)); len(runes) > 50 {
		s = string(runes[:50])
	} else {
		s = string(runes)
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "room"
	}
	return b.String()
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
