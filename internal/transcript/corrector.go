// Package transcript corrects recognised text against a configured
// vocabulary of proper nouns and domain terms.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/hark/internal/transcript/phonetic"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// Correction records one replaced phrase.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Corrector replaces misrecognised phrases with vocabulary terms. It is
// safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
}

// NewCorrector prepares a corrector for terms.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	return &Corrector{matcher: phonetic.New(terms, opts...)}
}

// Terms returns the vocabulary.
func (c *Corrector) Terms() []string { return c.matcher.Terms() }

// Correct rewrites text and reports the replacements made. Whitespace is
// normalised to single spaces. Punctuation around a replaced phrase is kept.
//
// At each word the longest matching phrase wins; matched words are consumed.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	maxN := c.matcher.MaxWords()
	if len(tokens) == 0 || maxN == 0 {
		return text, nil
	}

	core := make([]string, len(tokens))
	for i, tok := range tokens {
		core[i] = strings.ToLower(trimPunct(tok))
	}

	out := make([]string, 0, len(tokens))
	var corrections []Correction
	for i := 0; i < len(tokens); {
		n, term, conf := c.longestAt(core[i:], maxN)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}

		first, last := tokens[i], tokens[i+n-1]
		lead := first[:strings.Index(first, trimPunct(first))]
		trail := last[strings.LastIndex(last, trimPunct(last))+len(trimPunct(last)):]

		original := strings.Join(tokens[i:i+n], " ")
		replaced := lead + term + trail
		if replaced != original {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  replaced,
				Confidence: conf,
			})
		}
		out = append(out, replaced)
		i += n
	}
	return strings.Join(out, " "), corrections
}

// CorrectTranscript returns tr with its text corrected. Word details are
// left as the backend reported them.
func (c *Corrector) CorrectTranscript(tr stt.Transcript) (stt.Transcript, []Correction) {
	text, corrections := c.Correct(tr.Text)
	tr.Text = text
	return tr, corrections
}

// longestAt tries phrases starting at words[0], longest first. A phrase that
// contains a word with no letters or digits is skipped.
func (c *Corrector) longestAt(words []string, maxN int) (int, string, float64) {
	for n := min(maxN, len(words)); n >= 1; n-- {
		if blank(words[:n]) {
			continue
		}
		if term, conf, ok := c.matcher.Match(words[:n]); ok {
			return n, term, conf
		}
	}
	return 0, "", 0
}

func blank(words []string) bool {
	for _, w := range words {
		if w == "" {
			return true
		}
	}
	return false
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
