// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/echo/internal/model"
)

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title     string   `yaml:"title"`
	Room      string   `yaml:"room"`
	Created   string   `yaml:"created"`
	Messages  int      `yaml:"messages"`
	Models    []string `yaml:"models,omitempty,flow"`
	Exported  string   `yaml:"exported"`
	Generator string   `yaml:"generator"`
}

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports a room as a Markdown transcript.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders the room with YAML front matter and one section per message.
func (e *MarkdownExporter) Export(room model.Room, msgs []model.Message) ([]byte, error) {
	if room.ID == "" {
		return nil, &model.ValidationError{Field: "room", Message: "room has no id"}
	}

	shown := msgs
	if !e.options.IncludeSystem {
		shown = make([]model.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Role != model.RoleSystem {
				shown = append(shown, m)
			}
		}
	}
	exported := e.options.now()

	var sb strings.Builder

	front, err := yaml.Marshal(frontMatter{
		Title:     room.Name,
		Room:      room.ID,
		Created:   room.CreatedAt.Format(time.RFC3339),
		Messages:  len(shown),
		Models:    modelsUsed(shown),
		Exported:  exported.Format(time.RFC3339),
		Generator: "echo",
	})
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	sb.WriteString("---\n")
	sb.Write(front)
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(room.Name))

	if len(shown) == 0 {
		sb.WriteString("*No messages.*\n")
	}

	for i, msg := range shown {
		label := msg.Role.DisplayName()
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant && msg.Model != "" {
			fmt.Fprintf(&sb, "*%s*\n\n", msg.Model)
		}

		if i < len(shown)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported from echo on %s*\n", formatTimestamp(exported))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// modelsUsed lists the distinct assistant models in order of first use.
func modelsUsed(msgs []model.Message) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range msgs {
		if m.Role != model.RoleAssistant || m.Model == "" || seen[m.Model] {
			continue
		}
		seen[m.Model] = true
		out = append(out, m.Model)
	}
	return out
}

// escapeMarkdown escapes characters that would turn a heading into markup.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"_", `\_`,
		"`", "\\`",
		"[", `\[`,
		"]", `\]`,
		"<", `\<`,
		">", `\>`,
		"#", `\#`,
	)
	return r.Replace(s)
}
