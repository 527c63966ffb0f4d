// Package util provides small text helpers shared by the worker and the CLI.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks text that was cut short.
const Ellipsis = "..."

// TruncateWords keeps the first maxWords whitespace-separated words of s,
// appending Ellipsis when words were dropped. Line breaks inside the kept
// prefix are preserved. maxWords <= 0 returns s unchanged.
func TruncateWords(s string, maxWords int) string {
	if maxWords <= 0 {
		return s
	}

	words := 0
	inWord := false
	for i, r := range s {
		space := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !space && !inWord {
			if words == maxWords {
				return strings.TrimRight(s[:i], " \t\r\n") + Ellipsis
			}
			words++
		}
		inWord = !space
	}
	return s
}

// TruncateANSI truncates s to maxWidth visual columns, adding Ellipsis if
// truncated. Escape sequences and wide characters are measured correctly,
// so styled table cells keep their alignment.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(Ellipsis) {
		return Ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
