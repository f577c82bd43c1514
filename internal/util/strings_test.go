package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "short string unchanged", input: "build", maxLen: 10, expected: "build"},
		{name: "exact length unchanged", input: "build", maxLen: 5, expected: "build"},
		{name: "long string truncated", input: "build binaries", maxLen: 6, expected: "build…"},
		{name: "multibyte runes counted once", input: "日本語のタスク", maxLen: 4, expected: "日本語…"},
		{name: "width one", input: "build", maxLen: 1, expected: "…"},
		{name: "zero width", input: "build", maxLen: 0, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("running deploy pipeline")

	got := TruncateANSI(styled, 10)
	if w := lipgloss.Width(got); w > 10 {
		t.Errorf("width = %d, want <= 10 (%q)", w, got)
	}

	if got := TruncateANSI("short", 10); got != "short" {
		t.Errorf("TruncateANSI(short) = %q", got)
	}
	if got := TruncateANSI("wide", 0); got != "" {
		t.Errorf("TruncateANSI(width 0) = %q, want empty", got)
	}
}
