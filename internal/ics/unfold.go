package ics

import "strings"

// Unfold joins folded continuation lines (lines starting with a space or a
// tab) onto the preceding line. CRLF line endings are normalised to LF; no
// other transformation is applied.
func Unfold(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t') {
			// Drop the line break and exactly one leading whitespace char.
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
