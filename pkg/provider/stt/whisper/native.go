package whisper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

const nativeProviderName = "whisper-native"

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in process through its cgo bindings. The
// model is loaded once; each Transcribe call gets its own inference context,
// so concurrent calls are safe.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64
	threads    uint
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when a request names none.
// Default: "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceRMS skips inference and reports [stt.ErrNoSpeech] for
// utterances whose RMS energy is below rms.
func WithNativeSilenceRMS(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceRMS = rms }
}

// WithNativeThreads sets the inference thread count. Zero keeps the library
// default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: native model path is empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Provider]. Only 16 kHz input is accepted.
// Inference cannot be interrupted, so ctx is consulted before it starts.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	sr, ch, err := p.admit(ctx, req)
	if err != nil {
		return stt.Transcript{}, err
	}
	lang := cmp.Or(req.Language, p.language)

	var seg segments
	if err := p.infer(&seg, pcmToFloat32Mono(req.Audio, ch), lang, stt.Prompt(req.Keywords)); err != nil {
		return stt.Transcript{}, stt.BackendError(nativeProviderName, err)
	}
	text := seg.text()
	if text == "" || isBlankMarker(text) {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	return stt.Transcript{
		Text:       text,
		Words:      seg.words,
		Confidence: stt.MeanWordConfidence(seg.words),
		Language:   lang,
		Provider:   nativeProviderName,
		Duration:   audio.PCM16Duration(len(req.Audio), sr, ch),
	}, nil
}

// admit rejects requests that cannot or need not reach inference.
func (p *NativeProvider) admit(ctx context.Context, req stt.Request) (sampleRate, channels int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, stt.TransportError(nativeProviderName, err)
	}
	sampleRate, channels = requestLayout(req)
	if sampleRate != whisperlib.SampleRate {
		return 0, 0, stt.BackendError(nativeProviderName,
			fmt.Errorf("sample rate %d Hz not supported, need %d Hz", sampleRate, whisperlib.SampleRate))
	}
	if p.silenceRMS > 0 && computeRMS(req.Audio) < p.silenceRMS {
		return 0, 0, stt.ErrNoSpeech
	}
	return sampleRate, channels, nil
}

func (p *NativeProvider) infer(out *segments, samples []float32, lang, prompt string) error {
	wctx, err := p.model.NewContext()
	if err != nil {
		return fmt.Errorf("new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language rejected, model default applies", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next segment: %w", err)
		}
		out.add(s)
	}
}

// segments accumulates decoded segment text and word timings.
type segments struct {
	parts []string
	words []stt.Word
}

func (s *segments) add(seg whisperlib.Segment) {
	if t := strings.TrimSpace(seg.Text); t != "" {
		s.parts = append(s.parts, t)
	}
	for _, tok := range seg.Tokens {
		t := strings.TrimSpace(tok.Text)
		// Special tokens look like [_BEG_] or [_TT_42].
		if t == "" || strings.HasPrefix(t, "[_") {
			continue
		}
		s.words = append(s.words, stt.Word{
			Text:       t,
			Start:      tok.Start,
			End:        tok.End,
			Confidence: float64(tok.P),
		})
	}
}

func (s *segments) text() string { return strings.Join(s.parts, " ") }
