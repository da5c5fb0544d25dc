// Package history keeps a log of finished push-to-talk utterances.
//
// [MemoryStore] holds a bounded window in process. [PostgresStore] persists
// every entry and supports full-text search.
package history

import (
	"context"
	"time"

	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/pkg/capture"
)

// Entry is one recorded epoch.
type Entry struct {
	ID          int64                   `json:"id"`
	Epoch       uint64                  `json:"epoch"`
	Kind        string                  `json:"kind"`
	Text        string                  `json:"text,omitempty"`
	RawText     string                  `json:"raw_text,omitempty"`
	Confidence  float64                 `json:"confidence,omitempty"`
	Tier        string                  `json:"tier,omitempty"`
	Provider    string                  `json:"provider,omitempty"`
	Device      string                  `json:"device,omitempty"`
	Audio       time.Duration           `json:"audio_ns"`
	Latency     time.Duration           `json:"latency_ns"`
	Error       string                  `json:"error,omitempty"`
	Started     time.Time               `json:"started"`
	Ended       time.Time               `json:"ended"`
	Corrections []transcript.Correction `json:"corrections,omitempty"`
}

// FromOutcome builds an entry. rawText is the recogniser's text before
// correction; pass "" when no correction ran.
func FromOutcome(o capture.Outcome, rawText string, corrections []transcript.Correction) Entry {
	e := Entry{
		Epoch:       o.Epoch,
		Kind:        o.Kind.String(),
		Text:        o.Text,
		RawText:     rawText,
		Provider:    o.Provider,
		Device:      o.Device.Name,
		Audio:       o.Audio,
		Latency:     o.Latency,
		Started:     o.Started,
		Ended:       o.Ended,
		Corrections: corrections,
	}
	if o.OK() {
		e.Confidence = o.Confidence
		e.Tier = o.Tier.String()
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	// Append records e and returns its assigned ID.
	Append(ctx context.Context, e Entry) (int64, error)

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Search returns up to limit recognised entries whose text matches
	// query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)

	// Close releases the store's resources.
	Close()
}
