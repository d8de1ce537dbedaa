package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("Kyōto trip", 3); got != "Kyō..." {
		t.Errorf("multi-byte: got %q", got)
	}
}

func TestTitleWords(t *testing.T) {
	tests := []struct{ in, want string }{
		{"new york", "New York"},
		{"bali", "Bali"},
		{"  são paulo ", "São Paulo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TitleWords(tt.in); got != tt.want {
			t.Errorf("TitleWords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
