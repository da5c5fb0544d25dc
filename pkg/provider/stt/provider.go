// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (a local Whisper
// server, the in-process whisper.cpp bindings, Deepgram, or an
// OpenAI-compatible endpoint). The push-to-talk pipeline hands it one
// complete utterance at a time and blocks on the result.
//
// Failures are reported in two families so callers can tell a network
// problem from a backend that answered with an error: wrap them with
// [TransportError] or [BackendError]. A backend that ran successfully but
// heard nothing returns [ErrNoSpeech].
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Request is one utterance submitted for recognition.
type Request struct {
	// Audio is little-endian signed 16-bit PCM.
	Audio []byte

	// SampleRate is the audio sample rate in Hz, usually 16000.
	SampleRate int

	// Channels is the number of interleaved channels, usually 1.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "de-DE"). An empty string lets the provider auto-detect the language, if
	// supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words. See [Hint] for the boost
	// intensity semantics.
	Keywords []Hint
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises req.Audio and returns the transcript. It honours
	// ctx cancellation and deadlines.
	//
	// Returns [ErrNoSpeech] when the backend produced no text, a [*Error] of
	// kind [FailureTransport] when the backend could not be reached, and a
	// [*Error] of kind [FailureBackend] when it answered with an error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// ErrNoSpeech reports that recognition completed without any text.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// FailureKind classifies a recognition failure.
type FailureKind int

const (
	// FailureBackend means the backend was reached and reported an error or
	// returned an unusable response.
	FailureBackend FailureKind = iota

	// FailureTransport means the backend could not be reached or the
	// connection broke mid-request.
	FailureTransport
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureBackend:
		return "backend"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Error is a classified recognition failure.
type Error struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError wraps err as a [FailureTransport] failure of provider.
func TransportError(provider string, err error) error {
	return &Error{Kind: FailureTransport, Provider: provider, Err: err}
}

// BackendError wraps err as a [FailureBackend] failure of provider.
func BackendError(provider string, err error) error {
	return &Error{Kind: FailureBackend, Provider: provider, Err: err}
}

// Classify returns the failure kind of err. Unclassified errors count as
// backend failures, except context cancellation and deadline expiry, which
// count as transport failures.
func Classify(err error) FailureKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransport
	}
	return FailureBackend
}
