// Package phrase extracts the deduplicated significant-phrase sets used by
// the description-similarity factor. Descriptions are segmented into clauses,
// lower-cased, stripped of punctuation, and word-stemmed so morphological
// variants canonicalize to the same phrase.
package phrase

import (
	"strings"
	"unicode"

	"github.com/surgebase/porter2"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
)

// Set is a deduplicated collection of canonical phrases.
type Set map[string]struct{}

// Contains reports whether the canonical phrase p is in the set.
func (s Set) Contains(p string) bool {
	_, ok := s[p]
	return ok
}

// Extractor turns free-text descriptions into phrase sets. Extraction is
// pure; the relation engine memoizes results so each entry is extracted at
// most once per run.
type Extractor struct {
	minLength int
	stop      map[string]struct{}
}

// NewExtractor builds an Extractor from config. Stop phrases pass through
// the same canonicalization as description clauses so surface variants
// ("Self-Hosted", "self hosted") still match. A MinPhraseLength <= 0
// disables the length filter.
func NewExtractor(cfg config.PhrasesConfig) *Extractor {
	e := &Extractor{
		minLength: cfg.MinPhraseLength,
		stop:      make(map[string]struct{}, len(cfg.StopPhrases)),
	}
	for _, sp := range cfg.StopPhrases {
		if canon := canonicalize(sp); canon != "" {
			e.stop[canon] = struct{}{}
		}
	}
	return e
}

// Extract returns the canonical phrase set for a description. The result is
// never nil; blank input yields an empty set.
func (e *Extractor) Extract(description string) Set {
	set := make(Set)
	for _, clause := range splitClauses(description) {
		canon := canonicalize(clause)
		if canon == "" || len(canon) < e.minLength {
			continue
		}
		if _, isStop := e.stop[canon]; isStop {
			continue
		}
		set[canon] = struct{}{}
	}
	return set
}

// splitClauses segments a description on sentence and clause punctuation.
func splitClauses(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', ',', ';', ':', '!', '?', '(', ')', '[', ']', '{', '}', '\n', '\r':
			return true
		}
		return false
	})
}

// canonicalize lower-cases a clause, splits it on non-alphanumeric
// boundaries, and stems each word.
func canonicalize(clause string) string {
	words := strings.FieldsFunc(strings.ToLower(clause), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = porter2.Stem(w)
	}
	return strings.Join(words, " ")
}
