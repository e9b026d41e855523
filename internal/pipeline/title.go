package pipeline

import "strings"

// DeriveTitle builds a platform title from the first line of text,
// truncated to maxLen runes with a trailing ellipsis marker when cut.
func DeriveTitle(text string, maxLen int) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	r := []rune(line)
	if len(r) <= maxLen {
		return line
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
