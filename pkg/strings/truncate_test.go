package strings

import (
	"testing"
)

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short message unchanged",
			input:    "spec.size is required",
			maxLen:   40,
			expected: "spec.size is required",
		},
		{
			name:     "exact length unchanged",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "long message truncated",
			input:    "provider rejected the request with a verbose explanation",
			maxLen:   20,
			expected: "provider rejected...",
		},
		{
			name:     "newlines flattened",
			input:    "dial tcp:\nconnection refused",
			maxLen:   40,
			expected: "dial tcp: connection refused",
		},
		{
			name:     "whitespace runs collapsed",
			input:    "  too\t\tmany   \r\n spaces  ",
			maxLen:   40,
			expected: "too many spaces",
		},
		{
			name:     "unicode truncation is rune safe",
			input:    "日本語テスト文字列",
			maxLen:   6,
			expected: "日本語...",
		},
		{
			name:     "empty input",
			input:    "",
			maxLen:   10,
			expected: "",
		},
		{
			name:     "whitespace only becomes empty",
			input:    "   \n\t  ",
			maxLen:   10,
			expected: "",
		},
		{
			name:     "tiny maxLen clamped",
			input:    "hello",
			maxLen:   1,
			expected: "h...",
		},
		{
			name:     "negative maxLen clamped",
			input:    "hello",
			maxLen:   -5,
			expected: "h...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateMessage(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("TruncateMessage(%q, %d) = %q, want %q",
					tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestTruncateMessageRuneLength(t *testing.T) {
	input := "日本語テスト" // 6 characters, 18 bytes in UTF-8
	result := TruncateMessage(input, 5)

	expected := "日本..."
	if result != expected {
		t.Errorf("expected %q but got %q", expected, result)
	}

	runeCount := 0
	for range result {
		runeCount++
	}
	if runeCount != 5 {
		t.Errorf("expected 5 runes but got %d", runeCount)
	}
}
