package textutil

import (
	"strings"
	"unicode/utf8"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// segmentReplacer turns separators inside an identity name into underscores
// so "LNCaP clone FGC" becomes a single path segment.
var segmentReplacer = strings.NewReplacer(
	" ", "_",
	"/", "_",
	"\\", "_",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// PathSegment converts an identity name into a single safe path segment.
// Whitespace and slashes become underscores, remaining unsafe characters are
// handled by SanitizeFileName. Returns "unknown" for empty input.
func PathSegment(name string) string {
	name = strings.TrimSpace(name)
	out := SanitizeFileName(segmentReplacer.Replace(name))
	out = strings.Trim(out, ".")
	if out == "" {
		return "unknown"
	}
	return out
}

// Truncate shortens value to at most limit runes, marking the cut with "...".
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	if limit <= 3 {
		return string([]rune(value)[:limit])
	}
	return string([]rune(value)[:limit-3]) + "..."
}
