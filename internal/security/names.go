// Package security sanitizes names taken from input data before they are used
// as paths.
package security

import (
	"path/filepath"
	"strings"
)

const maxNameLen = 128

// SafeName turns s into a single path element. Runs of characters other than
// ASCII letters, digits, dot, underscore and dash become one underscore, and
// leading or trailing dots and underscores are trimmed. Names that are already
// safe come back unchanged. An empty result is "unknown".
func SafeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// StemName is SafeName of the base name of path without its extension.
func StemName(path string) string {
	base := filepath.Base(path)
	return SafeName(strings.TrimSuffix(base, filepath.Ext(base)))
}
