// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Markdown rendering for complete replies.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdownWrap caps the rendered width; long lines are hard to read.
const markdownWrap = 100

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderer returns the shared glamour renderer, or nil if it could not
// be built.
func renderer() *glamour.TermRenderer {
	markdownRendererOnce.Do(func() {
		width := GetTerminalWidth() - 2
		if width > markdownWrap {
			width = markdownWrap
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	return markdownRenderer
}

// renderMarkdown renders content for the terminal, returning it
// unchanged if rendering fails.
func renderMarkdown(content string) string {
	r := renderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayReply writes a complete reply. Markdown is rendered only when
// enabled, so piped output stays byte-exact.
func displayReply(w io.Writer, content string, markdown bool) {
	if markdown {
		fmt.Fprint(w, strings.TrimRight(renderMarkdown(content), "\n"))
	} else {
		fmt.Fprint(w, content)
	}
	fmt.Fprintln(w)
}
