// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - "Did you mean" suggestions for mistyped commands.

package cli

import (
	"strings"
)

// commandNames are the top-level commands, aliases included.
var commandNames = []string{
	"chat", "ask", "rooms", "ls", "new", "rename", "rm", "delete",
	"clear", "history", "export", "models", "ping", "doctor", "config", "setup",
	"version", "help",
}

// chatCommandNames are the slash commands accepted in chat.
var chatCommandNames = []string{
	"/rooms", "/new", "/use", "/switch", "/rename", "/rm", "/delete",
	"/clear", "/model", "/models", "/history", "/help", "/quit", "/exit",
}

// SuggestCommand returns the top-level command closest to input, or ""
// when nothing is close enough.
func SuggestCommand(input string) string {
	return suggest(input, commandNames)
}

// suggest picks the candidate with the smallest edit distance to input,
// allowing more typos in longer words.
func suggest(input string, candidates []string) string {
	input = strings.ToLower(input)
	if len(input) < 2 {
		return ""
	}

	maxDistance := 1
	if len(input) >= 4 {
		maxDistance = 2
	}
	if len(input) > 8 {
		maxDistance = 3
	}

	best, bestDistance := "", -1
	for _, c := range candidates {
		d := levenshteinDistance(input, c)
		if d == 0 {
			return ""
		}
		if d <= maxDistance && (bestDistance == -1 || d < bestDistance) {
			best, bestDistance = c, d
		}
	}
	return best
}

// levenshteinDistance computes the edit distance using two rows.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
