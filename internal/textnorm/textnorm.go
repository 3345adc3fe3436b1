// Package textnorm produces comparison keys for words so that a transcription
// which dropped or altered diacritics still compares equal to the original text.
//
// The output of [Normalize] is only ever used for comparison. It must never be
// returned to a caller in place of the original text.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the comparable form of s: canonical decomposition, every
// nonspacing mark removed (Latin and Greek accents, Hebrew niqqud and
// cantillation, Arabic harakat), full Unicode case folding, and everything that
// is not a letter or digit dropped.
//
// A token consisting only of punctuation or marks normalizes to "".
// Normalize is pure and safe for concurrent use.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain keeps state, so build one per call.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Fold(),
		runes.Remove(runes.Predicate(func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		// Only malformed chains fail; fall back to a conservative fold.
		return strings.ToLower(s)
	}
	return out
}

// Equal reports whether a and b have the same comparable form.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
