package discord

import "testing"

func TestStripMention(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<@123> what's the time?", "what's the time?"},
		{"<@!123> hello", "hello"},
		{"no mention here", "no mention here"},
		{"<@123>", ""},
	}
	for _, tt := range tests {
		if got := stripMention(tt.in, "123"); got != tt.want {
			t.Errorf("stripMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
