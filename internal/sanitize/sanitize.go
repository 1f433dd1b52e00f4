// Package sanitize cleans free text before it is stored.
package sanitize

import (
	"strings"

	goaway "github.com/TwiN/go-away"

	"github.com/xtrntr/auction/internal/textmatch"
)

// Sanitizer cleans a free-text field.
type Sanitizer interface {
	Sanitize(text string) string
}

// Filter censors profanity by replacing every offending character with '*'.
type Filter struct {
	detector *goaway.ProfanityDetector
}

// New builds a filter over the built-in dictionary plus extra words.
func New(extra []string) *Filter {
	words := append(append([]string{}, goaway.DefaultProfanities...), normalize(extra)...)
	return newFilter(words)
}

// NewWithWords builds a filter that blocks only words.
func NewWithWords(words []string) *Filter {
	return newFilter(normalize(words))
}

func newFilter(words []string) *Filter {
	return &Filter{
		detector: goaway.NewProfanityDetector().
			WithCustomDictionary(words, goaway.DefaultFalsePositives, goaway.DefaultFalseNegatives),
	}
}

// normalize folds words to the lower case form the detector matches on.
// Blank entries are dropped.
func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, textmatch.Fold(w))
		}
	}
	return out
}

// Sanitize trims text and censors it.
func (f *Filter) Sanitize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	return f.detector.Censor(text)
}

// Noop trims whitespace only.
type Noop struct{}

func (Noop) Sanitize(text string) string { return strings.TrimSpace(text) }
