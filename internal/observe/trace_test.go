package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestStartSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	ctx, span := StartSpan(context.Background(), "capture.epoch")
	id := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "capture.epoch" {
		t.Fatalf("spans = %v", spans)
	}
	if id != spans[0].SpanContext.TraceID().String() {
		t.Errorf("CorrelationID = %q, want span trace ID", id)
	}
	if spans[0].InstrumentationScope.Name != meterName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, meterName)
	}
}

func TestLogger_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("untraced")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("untraced line has trace_id: %s", buf.String())
	}

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	buf.Reset()
	Logger(ctx).Info("traced")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.SpanContext().TraceID().String()) ||
		!strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("traced line = %s", out)
	}
}

func TestNewResource_MatchesSDKSchema(t *testing.T) {
	res, err := newResource(ProviderConfig{ServiceName: "hark", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if got, want := res.SchemaURL(), resource.Default().SchemaURL(); got != want {
		t.Errorf("schema = %q, want the SDK default %q", got, want)
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "hark" || attrs["service.version"] != "1.2.3" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestInitProvider_ExportsToRegisterer(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion:   "test",
		Registerer:       reg,
		TraceSampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer shutdown(context.Background())

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordOutcome(context.Background(), "recognized", "high", 1.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "hark_outcomes") {
			found = true
		}
	}
	if !found {
		t.Error("hark_outcomes not exported to the registerer")
	}
}
