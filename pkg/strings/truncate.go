package strings

import (
	"strings"
)

// DefaultMessageMaxLen bounds the human-readable messages recorded on
// resource conditions. Raw errors from providers can be arbitrarily long;
// conditions are an audit trail, not a log sink.
const DefaultMessageMaxLen = 256

// MinTruncateLen is the smallest usable maxLen: one character plus "...".
const MinTruncateLen = 4

// TruncateMessage flattens s to a single line, collapses runs of whitespace
// and truncates to maxLen runes, appending "..." when anything was cut.
// Operating on runes keeps multi-byte characters intact. A maxLen below
// MinTruncateLen is clamped up to it.
func TruncateMessage(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
