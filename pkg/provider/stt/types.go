package stt

import (
	"strings"
	"time"
)

// Transcript is what a backend recognized in one utterance.
type Transcript struct {
	Text string

	// Confidence is in [0, 1]. Zero means the backend reports none.
	Confidence float64

	// Words is nil unless the backend returns word timings.
	Words []Word

	// Language is the detected or requested language, if the backend says.
	Language string

	// Provider names the backend that answered. Behind a fallback chain this
	// is the member that succeeded.
	Provider string

	// Duration is the length of the audio that was recognized.
	Duration time.Duration
}

// Word is one recognized word with its offsets into the utterance.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Hint biases recognition toward a vocabulary term, typically a proper noun
// the backend's language model would otherwise misspell. Boost is passed
// through to backends with native keyword boosting and ignored by the rest.
type Hint struct {
	Term  string
	Boost float64
}

// Prompt renders hints as an initial prompt for backends that condition on
// preceding text instead of boosting keywords. Empty terms are skipped.
func Prompt(hints []Hint) string {
	var b strings.Builder
	for _, h := range hints {
		if h.Term == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(h.Term)
	}
	return b.String()
}

// MeanWordConfidence averages the confidences of words that carry one, or
// returns 0.
func MeanWordConfidence(words []Word) float64 {
	var total float64
	scored := 0
	for _, w := range words {
		if w.Confidence <= 0 {
			continue
		}
		total += w.Confidence
		scored++
	}
	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}
