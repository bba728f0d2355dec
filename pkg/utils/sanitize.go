package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var whitespaceRuns = regexp.MustCompile(`\s+`)
var consecutiveUnderscores = regexp.MustCompile(`_+`) // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                         // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	if len(sanitized) > maxFilenameLength {
		sanitized = truncateUTF8(sanitized, maxFilenameLength)
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" { // Handle cases where sanitization results in an empty string
		sanitized = "untitled"
	}
	return sanitized
}

// SanitizeKeyComponent is SanitizeFilename with whitespace folded to underscores too,
// so the result can be embedded in a cache key without quoting.
func SanitizeKeyComponent(name string) string {
	folded := whitespaceRuns.ReplaceAllString(strings.TrimSpace(name), "_")
	return SanitizeFilename(folded)
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
