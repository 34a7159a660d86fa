package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugPattern = regexp.MustCompile("[^a-z0-9]+")

// Slugify turns a panel-reported name into a stable topic-safe identifier.
func Slugify(s string) string {
	s = strings.ToLower(s)

	// Strip accents: Satel names may use localized character sets.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)

	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Normalize removes NUL padding and trims whitespace from fixed-width
// name fields as the panel reports them.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
