package dataset

import "strings"

// SanitizeText
// Normalises whitespace in text: drops `\r`, turns escaped `\n` into a
// newline, collapses repeated newlines, turns tabs into spaces, collapses
// runs of spaces, strips spaces at the beginning and end of lines and removes
// the space before a colon.
func SanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\\n", "\n")
	var sb strings.Builder
	sb.Grow(len(text))
	lastRune := '\n'
	pendingSpace := false
	for _, r := range text {
		switch r {
		case '\r':
			// Silently drop Windows `\r`.
		case ' ', '\t':
			pendingSpace = true
		case '\n':
			// Trailing spaces are dropped with the pending space.
			pendingSpace = false
			if lastRune == '\n' && sb.Len() > 0 {
				continue
			}
			sb.WriteRune(r)
			lastRune = r
		default:
			if pendingSpace && lastRune != '\n' && r != ':' {
				sb.WriteRune(' ')
			}
			pendingSpace = false
			sb.WriteRune(r)
			lastRune = r
		}
	}
	return sb.String()
}
