package utils

import (
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 100 // Bytes

// SanitizeFilename turns a run name or domain into one safe path component.
// Characters invalid on Windows or Unix and underscores collapse into a single
// underscore, leading and trailing separators are dropped, and the result is
// cut at a rune boundary. Empty results become "untitled".
func SanitizeFilename(name string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(name) {
		if r == '_' || unsafeInFilename(r) {
			sep = true
			continue
		}
		need := utf8.RuneLen(r)
		if sep && b.Len() > 0 {
			need++
		}
		if b.Len()+need > maxFilenameLength {
			break
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), " ")
	if sanitized == "" {
		return "untitled"
	}
	return sanitized
}

func unsafeInFilename(r rune) bool {
	return r < 0x20 || r == 0x7f || r == utf8.RuneError || strings.ContainsRune(`<>:"/\|?*`, r)
}
