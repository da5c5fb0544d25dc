package capture

import (
	"fmt"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// OutcomeKind classifies how an epoch ended.
type OutcomeKind int

const (
	// OutcomeRecognized means the recognizer returned text.
	OutcomeRecognized OutcomeKind = iota

	// OutcomeTooShort means the utterance was shorter than the minimum
	// duration and was never submitted.
	OutcomeTooShort

	// OutcomeEmpty means no audio reached the assembler at all.
	OutcomeEmpty

	// OutcomeNoSpeech means the recognizer ran but heard nothing.
	OutcomeNoSpeech

	// OutcomeTransportError means the recognizer could not be reached.
	OutcomeTransportError

	// OutcomeBackendError means the recognizer reported a failure.
	OutcomeBackendError

	// OutcomeEngineFailure means capture could not be started or was lost
	// mid-epoch.
	OutcomeEngineFailure

	// OutcomeSuperseded means a newer epoch began before this one finished;
	// its audio was discarded.
	OutcomeSuperseded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecognized:
		return "recognized"
	case OutcomeTooShort:
		return "too_short"
	case OutcomeEmpty:
		return "empty"
	case OutcomeNoSpeech:
		return "no_speech"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeEngineFailure:
		return "engine_failure"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Tier buckets recognizer confidence.
type Tier int

const (
	TierUnknown Tier = iota
	TierLow
	TierMedium
	TierHigh
)

// Confidence tier boundaries.
const (
	MediumConfidence = 0.5
	HighConfidence   = 0.8
)

// TierOf maps a confidence in [0, 1] to a tier. Zero means the backend did
// not report one.
func TierOf(confidence float64) Tier {
	switch {
	case confidence <= 0:
		return TierUnknown
	case confidence >= HighConfidence:
		return TierHigh
	case confidence >= MediumConfidence:
		return TierMedium
	default:
		return TierLow
	}
}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Outcome reports the result of one push-to-talk epoch. Exactly one Outcome
// is delivered per epoch.
type Outcome struct {
	Kind       OutcomeKind
	Epoch      uint64
	Generation uint32
	Device     audio.Device

	// Text, Confidence, Tier, and Provider are set for OutcomeRecognized.
	Text       string
	Confidence float64
	Tier       Tier
	Provider   string

	// Audio is the length of the assembled utterance.
	Audio time.Duration

	// Latency is the time spent in the recognizer.
	Latency time.Duration

	// Started and Ended bound the epoch.
	Started time.Time
	Ended   time.Time

	// Err carries the failure for error kinds.
	Err error
}

// OK reports whether the outcome carries recognised text.
func (o Outcome) OK() bool { return o.Kind == OutcomeRecognized }
