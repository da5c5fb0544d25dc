package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

var _ stt.Provider = (*STTFallback)(nil)

// errCallerDone marks attempts skipped because the caller's context ended.
var errCallerDone = errors.New("resilience: caller gave up")

// STTFallback is an [stt.Provider] that fails over across recognition
// backends. A no-speech answer is returned from the first backend that
// gives it and does not count against that backend's breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// NewSTTFallback creates an STTFallback with primary as the preferred
// backend. cfg.CircuitBreaker.Neutral and cfg.Final are set by the
// constructor.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.CircuitBreaker.Neutral = neutralSTTError
	cfg.Final = finalSTTError
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend after those already added.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Members reports each backend's breaker state.
func (f *STTFallback) Members() []MemberState { return f.group.Members() }

// Transcribe tries each healthy backend in order. Once ctx is done no
// further backend is tried.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, fmt.Errorf("%w: %w", errCallerDone, err)
		}
		return p.Transcribe(ctx, req)
	})
}

func neutralSTTError(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech) ||
		errors.Is(err, errCallerDone) ||
		errors.Is(err, context.Canceled)
}

func finalSTTError(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech) || errors.Is(err, errCallerDone)
}
