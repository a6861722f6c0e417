// Package textmatch holds the string normalization and similarity scoring
// shared by the intent parser and the command tables.
package textmatch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Normalize prepares text for matching: lowercases it, folds accents,
// replaces punctuation with spaces and collapses whitespace. "  Go HOME! "
// and "go home" normalize to the same string.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = lower.String(folded)

	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\'' {
			return r
		}
		return ' '
	}, folded)

	return strings.Join(strings.Fields(folded), " ")
}
