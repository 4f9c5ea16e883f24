package ui

import (
	"strings"
	"testing"
)

func TestNewConsole(t *testing.T) {
	console := NewConsole()
	if console == nil {
		t.Fatal("NewConsole() returned nil")
	}
}

func TestConsole_formatMessage(t *testing.T) {
	console := &Console{useColors: true}

	tests := []struct {
		style   ConsoleStyle
		message string
		colored bool
	}{
		{StyleNormal, "test message", false},
		{StyleError, "error message", true},
		{StyleWarning, "warning message", true},
		{StyleSuccess, "success message", true},
		{StyleInfo, "info message", true},
	}

	for _, test := range tests {
		result := console.formatMessage(test.style, test.message)

		if test.colored {
			if !strings.Contains(result, test.message) {
				t.Errorf("formatMessage(%v, %q) should contain original message", test.style, test.message)
			}
			if !strings.Contains(result, colorReset) {
				t.Errorf("formatMessage(%v, %q) should contain reset code", test.style, test.message)
			}
		} else if result != test.message {
			t.Errorf("formatMessage(%v, %q) = %q, want %q", test.style, test.message, result, test.message)
		}
	}
}

func TestConsole_formatMessage_NoColors(t *testing.T) {
	console := &Console{useColors: false}

	result := console.formatMessage(StyleError, "test message")
	if result != "test message" {
		t.Errorf("formatMessage with useColors=false should return original message, got %q", result)
	}
}

func TestConsole_FormatErrorMessage(t *testing.T) {
	console := NewConsole()

	got := console.FormatErrorMessage("ctx", "why", "fix")
	for _, part := range []string{"ctx", "Cause: why", "Suggestion: fix"} {
		if !strings.Contains(got, part) {
			t.Errorf("FormatErrorMessage missing %q in %q", part, got)
		}
	}

	if got := console.FormatErrorMessage("only context", "", ""); got != "only context" {
		t.Errorf("FormatErrorMessage = %q, want %q", got, "only context")
	}
}
