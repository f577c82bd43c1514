// Package util holds small text helpers shared by the CLI and the live view.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// TruncateString shortens s to at most maxLen runes, ending in Ellipsis when
// anything was cut. It ignores ANSI escapes and display width; use
// TruncateANSI for styled terminal text.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen == 1 {
		return Ellipsis
	}
	return string(runes[:maxLen-1]) + Ellipsis
}

// TruncateANSI shortens s to maxWidth terminal columns, keeping escape
// sequences intact and counting wide characters as two columns.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}
