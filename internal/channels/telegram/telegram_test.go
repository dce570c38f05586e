package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		parts int
	}{
		{"short stays whole", "hello", 4096, 1},
		{"exact limit stays whole", strings.Repeat("a", 10), 10, 1},
		{"splits over limit", strings.Repeat("a", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitMessage(tt.text, tt.limit)
			if len(parts) != tt.parts {
				t.Fatalf("parts = %d, want %d", len(parts), tt.parts)
			}
			for _, p := range parts {
				if len(p) > tt.limit {
					t.Errorf("part exceeds limit: %d > %d", len(p), tt.limit)
				}
			}
			if strings.Join(parts, "") != strings.ReplaceAll(tt.text, "\n", "") && !strings.Contains(tt.text, "\n") {
				t.Error("content lost in split")
			}
		})
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := "first line\nsecond line\nthird line"
	parts := splitMessage(text, 15)
	if len(parts) < 2 {
		t.Fatalf("parts = %v", parts)
	}
	if parts[0] != "first line" {
		t.Errorf("first part = %q, expected split on newline", parts[0])
	}
}
