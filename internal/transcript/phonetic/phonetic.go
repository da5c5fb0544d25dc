// Package phonetic matches spoken phrases against a fixed vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase is a candidate for a term when the Double Metaphone codes of the
// two, with spaces removed, share a code. Candidates are accepted above the
// phonetic threshold (default 0.70). Phrases without a shared code can still
// match on spelling alone above the higher fuzzy threshold (default 0.85).
//
// Phrases may span one word more than the term, which catches a single word
// the recognizer split in two ("elder nacks" for "Eldrinax"). Such split
// phrases must match phonetically.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minRunes is the shortest phrase considered for correction.
	minRunes = 3
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phrase
// that shares a phonetic code with a term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a phrase that
// shares no phonetic code with a term. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores phrases against a vocabulary. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

type term struct {
	text   string
	lower  string
	joined string
	words  int
	runes  int
	codes  []string
}

// New prepares a matcher for terms. Blank terms are ignored.
func New(terms []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, t := range terms {
		fields := strings.Fields(strings.ToLower(t))
		if len(fields) == 0 {
			continue
		}
		joined := strings.Join(fields, "")
		m.terms = append(m.terms, term{
			text:   strings.Join(strings.Fields(t), " "),
			lower:  strings.Join(fields, " "),
			joined: joined,
			words:  len(fields),
			runes:  utf8.RuneCountInString(joined),
			codes:  codes(joined),
		})
		m.maxWords = max(m.maxWords, len(fields))
	}
	return m
}

// Terms returns the prepared vocabulary in its canonical spelling.
func (m *Matcher) Terms() []string {
	out := make([]string, len(m.terms))
	for i, t := range m.terms {
		out[i] = t.text
	}
	return out
}

// MaxWords is the longest phrase, in words, that [Matcher.Match] can accept.
func (m *Matcher) MaxWords() int {
	if m.maxWords == 0 {
		return 0
	}
	return m.maxWords + 1
}

// Match returns the term that best matches the given lower-case words as a
// single phrase. When several terms qualify the highest score wins.
func (m *Matcher) Match(words []string) (corrected string, confidence float64, matched bool) {
	if len(words) == 0 {
		return "", 0, false
	}
	var best float64
	for i := range m.terms {
		t := &m.terms[i]
		score, ok := m.score(t, words)
		if !ok || score <= best {
			continue
		}
		// A split phrase loses to either of its halves matching alone.
		if len(words) == t.words+1 {
			if _, ok := m.score(t, words[:t.words]); ok {
				continue
			}
			if _, ok := m.score(t, words[1:]); ok {
				continue
			}
		}
		best, corrected = score, t.text
	}
	if corrected == "" {
		return "", 0, false
	}
	return corrected, best, true
}

// score rates words against t.
func (m *Matcher) score(t *term, words []string) (float64, bool) {
	split := len(words) == t.words+1
	if len(words) != t.words && !split {
		return 0, false
	}
	phrase := strings.Join(words, " ")
	if phrase == t.lower {
		return 1, true
	}
	joined := strings.Join(words, "")
	runes := utf8.RuneCountInString(joined)
	if runes < minRunes || !lengthClose(runes, t.runes) {
		return 0, false
	}

	score := max(
		matchr.JaroWinkler(phrase, t.lower, false),
		matchr.JaroWinkler(joined, t.joined, false),
	)
	phonetic := overlap(codes(joined), t.codes)
	switch {
	case phonetic && score >= m.phoneticThreshold:
		return score, true
	case !phonetic && !split && score >= m.fuzzyThreshold:
		return score, true
	}
	return 0, false
}

// lengthClose reports whether a phrase of n runes is near enough to a term of
// want runes to be worth scoring.
func lengthClose(n, want int) bool {
	d := n - want
	if d < 0 {
		d = -d
	}
	return d <= max(2, want/4)
}

// codes returns the non-empty Double Metaphone codes of s.
func codes(s string) []string {
	p, alt := matchr.DoubleMetaphone(s)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if alt != "" && alt != p {
		out = append(out, alt)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
