// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify which utterances the caller submitted and to script
// the transcripts or errors it receives.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello", Confidence: 0.9}}
//	tr, _ := p.Transcribe(ctx, req)
//	calls := p.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. Req.Audio is a copy.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil and Func is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Func, if set, computes the response instead of Result and Err.
	Func func(ctx context.Context, req stt.Request) (stt.Transcript, error)

	// Block makes Transcribe wait for ctx to be done before returning
	// ctx.Err().
	Block bool

	calls []TranscribeCall
}

// Transcribe records the call and returns the scripted response.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	audio := make([]byte, len(req.Audio))
	copy(audio, req.Audio)
	rec := req
	rec.Audio = audio
	p.calls = append(p.calls, TranscribeCall{Req: rec})
	fn, res, err, block := p.Func, p.Result, p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// Calls returns a copy of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
