/**
 * Vocabulary for fusion scoring
 *
 * Lookup is case- and diacritic-insensitive: entries and probe tokens are
 * folded through NFD decomposition with combining marks stripped. Emitted
 * text is never altered, only the lookup key.
 */

package fusion

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Vocabulary is a set of expected words used to bias fusion scoring
type Vocabulary struct {
	words map[string]struct{}
	list  []string // folded entries, kept for substring checks
}

// vocabularyFile is the on-disk YAML shape
type vocabularyFile struct {
	Words []string `yaml:"words"`
}

// Fold normalizes a token for vocabulary lookup: lowercase with combining
// marks removed.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NewVocabulary builds a vocabulary from a word list
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{
		words: make(map[string]struct{}, len(words)),
		list:  make([]string, 0, len(words)),
	}
	for _, w := range words {
		folded := Fold(strings.TrimSpace(w))
		if folded == "" {
			continue
		}
		if _, exists := v.words[folded]; exists {
			continue
		}
		v.words[folded] = struct{}{}
		v.list = append(v.list, folded)
	}
	return v
}

// LoadVocabulary reads a YAML vocabulary file ({words: [...]})
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}

	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file: %w", err)
	}

	return NewVocabulary(file.Words), nil
}

// Size returns the number of vocabulary entries
func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.list)
}

// Contains reports an exact (folded) vocabulary match
func (v *Vocabulary) Contains(token string) bool {
	if v == nil || token == "" {
		return false
	}
	_, ok := v.words[Fold(token)]
	return ok
}

// SubstringMatch reports whether the token contains a vocabulary entry or a
// vocabulary entry contains the token (folded, either direction).
func (v *Vocabulary) SubstringMatch(token string) bool {
	if v == nil {
		return false
	}
	folded := Fold(token)
	if len(folded) < 2 {
		return false
	}
	for _, entry := range v.list {
		if strings.Contains(entry, folded) || strings.Contains(folded, entry) {
			return true
		}
	}
	return false
}
