// Package observe wires hark into OpenTelemetry: metric instruments, span
// helpers, a tracing decorator for recognition backends, and HTTP middleware.
//
// [InitProvider] installs a Prometheus-backed meter provider; tests build
// their own [Metrics] over an sdkmetric.ManualReader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope shared by metrics and spans.
const meterName = "github.com/MrWong99/hark"

// Metrics holds hark's synchronous instruments. Asynchronous capture
// instruments are added by [Metrics.ObserveCapture].
type Metrics struct {
	meter metric.Meter

	STTDuration       metric.Float64Histogram // seconds per recognition call
	UtteranceDuration metric.Float64Histogram // seconds of audio per submitted utterance

	Outcomes         metric.Int64Counter // attrs: kind, tier
	ProviderRequests metric.Int64Counter // attrs: provider, status
	ProviderErrors   metric.Int64Counter // attrs: provider, kind
	ConfigReloads    metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram // attrs: method, path
}

var (
	recognizeBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
	utteranceBuckets = []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60}
)

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: mp.Meter(meterName)}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&m.STTDuration, "hark.stt.duration", "Latency of speech recognition calls.", recognizeBuckets},
		{&m.UtteranceDuration, "hark.utterance.duration", "Length of audio submitted for recognition.", utteranceBuckets},
		{&m.HTTPRequestDuration, "hark.http.request.duration", "HTTP request latency by method and path.", nil},
	}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.Outcomes, "hark.outcomes", "Finished push-to-talk epochs by outcome kind."},
		{&m.ProviderRequests, "hark.provider.requests", "Recognition calls by provider and status."},
		{&m.ProviderErrors, "hark.provider.errors", "Recognition failures by provider and failure kind."},
		{&m.ConfigReloads, "hark.config.reloads", "Configuration reloads applied at runtime."},
	}

	var errs []error
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		inst, err := m.meter.Float64Histogram(h.name, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
		*h.dst = inst
	}
	for _, c := range counters {
		inst, err := m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
		*c.dst = inst
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

// DefaultMetrics lazily builds [Metrics] on the global meter provider. It
// panics if the instruments cannot be created.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

// RecordOutcome counts a finished epoch. audioSeconds, when positive, is the
// length of the utterance that was submitted.
func (m *Metrics) RecordOutcome(ctx context.Context, kind, tier string, audioSeconds float64) {
	set := attribute.NewSet(attribute.String("kind", kind))
	if tier != "" {
		set = attribute.NewSet(attribute.String("kind", kind), attribute.String("tier", tier))
	}
	m.Outcomes.Add(ctx, 1, metric.WithAttributeSet(set))
	if audioSeconds > 0 {
		m.UtteranceDuration.Record(ctx, audioSeconds)
	}
}

// RecordProviderRequest counts one recognition call by the backend that
// handled it.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("status", status)))
}

// RecordProviderError counts one failed recognition call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("kind", kind)))
}
