package natsgath

import (
	"strings"
)

// trimStrToRect clips a crash excerpt to a height x width rectangle so a
// single event message stays small on the wire.
func trimStrToRect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = append(lines[:maxHeight], "[...]")
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		if len(line) > maxWidth {
			b.WriteString(line[:maxWidth] + "[...]")
		} else {
			b.WriteString(line)
		}
	}
	return b.String()
}
