package utils

import (
	"strings"
	"unicode"
)

// allowedFilenamePunct are the non-alphanumeric runes kept by SanitizeFilename.
const allowedFilenamePunct = " ._-()"

// Normalize collapses every whitespace run (newlines included) to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SanitizeFilename turns free text into a single path component.
// Letters and digits survive, as do the runes in " ._-()"; everything else becomes '_'.
// The result never contains a path separator and SanitizeFilename(SanitizeFilename(x)) == SanitizeFilename(x).
func SanitizeFilename(text string) string {
	normalized := Normalize(text)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(allowedFilenamePunct, r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}

	// '/' cannot survive the loop above; kept so a future widening of the allowed set stays safe.
	return strings.ReplaceAll(b.String(), "/", "-")
}

// SanitizeKey derives a space-free token for state file and database directory names.
func SanitizeKey(text string) string {
	key := strings.ReplaceAll(SanitizeFilename(text), " ", "_")
	if key == "" || key == "." || key == ".." {
		return "untitled"
	}
	return key
}
