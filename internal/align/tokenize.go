package align

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned by [Tokenize] when the text has no non-whitespace
// characters.
var ErrEmptyText = errors.New("align: text is empty")

// Tokenize splits text on Unicode whitespace. Token text is copied verbatim,
// so diacritics and punctuation attached to a word are preserved.
func Tokenize(text string) ([]ReferenceToken, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var (
		tokens    []ReferenceToken
		start     = -1 // character offset of the current token, -1 outside a token
		byteStart int
		pos       int // character offset of r
	)
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, ReferenceToken{Text: text[byteStart:i], CharStart: start, CharEnd: pos})
				start = -1
			}
		} else if start < 0 {
			start = pos
			byteStart = i
		}
		pos++
	}
	if start >= 0 {
		tokens = append(tokens, ReferenceToken{Text: text[byteStart:], CharStart: start, CharEnd: pos})
	}
	return tokens, nil
}
