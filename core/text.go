package core

import "strings"

// NormalizeText canonicalizes extracted document text before chunking.
// Line endings are converted to \n and trailing whitespace (including a
// trailing page break) is removed. Chunk offsets are always relative to the
// normalized text.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimRight(text, " \t\n\f")
}
