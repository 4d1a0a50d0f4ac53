// Package strings holds text helpers shared by the table renderers.
package strings

import (
	"strings"
)

// DefaultMessageMaxLen is the width of message columns in table output.
const DefaultMessageMaxLen = 60

// minTruncateLen leaves room for one character plus "...".
const minTruncateLen = 4

// TruncateMessage flattens s to a single line and shortens it to at most
// maxLen runes, ending in "..." when cut. Runtime and validation errors
// often span several lines; whitespace runs collapse to one space.
func TruncateMessage(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
