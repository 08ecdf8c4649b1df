package fusion

import (
	"strings"
	"unicode"
)

// Tokenize splits text into word tokens on whitespace and punctuation.
// Digits stay attached to their token ("A1" is one token).
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// looksLikeWord is a cheap plausibility heuristic: at least two characters
// with an in-alphabet ratio of 80% or more.
func looksLikeWord(token string) bool {
	runes := []rune(token)
	if len(runes) < 2 {
		return false
	}

	letters := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters)/float64(len(runes)) >= 0.8
}
