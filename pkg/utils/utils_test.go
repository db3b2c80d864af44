package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}

	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
}

func TestGenerateConsultationID(t *testing.T) {
	id := GenerateConsultationID()
	if !strings.HasPrefix(id, "consult_") {
		t.Errorf("expected prefix 'consult_', got %s", id)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"milliseconds", 250 * time.Millisecond, "250ms"},
		{"seconds", 2500 * time.Millisecond, "2.50s"},
		{"minutes", 2*time.Minute + 5*time.Second, "2m5s"},
		{"hours", time.Hour + 30*time.Minute, "1h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatDuration(tt.input)
			if result != tt.expected {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseDurationSafe(t *testing.T) {
	if d := ParseDurationSafe("5s", time.Minute); d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
	if d := ParseDurationSafe("garbage", time.Minute); d != time.Minute {
		t.Errorf("expected fallback 1m, got %v", d)
	}
}
