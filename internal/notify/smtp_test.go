package notify

import "testing"

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare address", "editor@example.com", "editor@example.com"},
		{"name and address", "Alice <alice@example.com>", "alice@example.com"},
		{"just angle brackets", "<editor@test.com>", "editor@test.com"},
		{"empty", "", ""},
		{"no closing bracket", "Alice <alice@test.com", "Alice <alice@test.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractAddress(tt.input)
			if got != tt.want {
				t.Errorf("extractAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
