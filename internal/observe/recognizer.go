package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

var _ stt.Provider = (*TracedRecognizer)(nil)

// TracedRecognizer wraps an [stt.Provider] with a span per call, latency
// and request metrics, and provider error counts.
type TracedRecognizer struct {
	next    stt.Provider
	name    string
	metrics *Metrics
}

// NewTracedRecognizer wraps next. name labels metrics when the transcript
// or error does not name a provider.
func NewTracedRecognizer(next stt.Provider, name string, m *Metrics) *TracedRecognizer {
	return &TracedRecognizer{next: next, name: name, metrics: m}
}

// Transcribe implements stt.Provider.
func (r *TracedRecognizer) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	ctx, span := StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.Int("audio.bytes", len(req.Audio)),
			attribute.Int("audio.sample_rate", req.SampleRate),
			attribute.String("language", req.Language),
		),
	)
	defer span.End()

	start := time.Now()
	tr, err := r.next.Transcribe(ctx, req)
	elapsed := time.Since(start)

	provider := r.name
	if tr.Provider != "" {
		provider = tr.Provider
	}
	var se *stt.Error
	if errors.As(err, &se) && se.Provider != "" {
		provider = se.Provider
	}
	span.SetAttributes(attribute.String("provider", provider))

	status := "ok"
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		status = "no_speech"
	case err != nil:
		status = "error"
		kind := stt.Classify(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		r.metrics.RecordProviderError(ctx, provider, kind)
		Logger(ctx).Debug("observe: recognition failed", "provider", provider, "kind", kind, "err", err)
	default:
		span.SetAttributes(attribute.Float64("confidence", tr.Confidence))
	}
	r.metrics.RecordProviderRequest(ctx, provider, status)
	r.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	return tr, err
}
