package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the int64 sum data point whose attribute key equals val.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, val string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == val {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, val)
	return 0
}

func TestRecordOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOutcome(ctx, "recognized", "high", 1.5)
	m.RecordOutcome(ctx, "recognized", "high", 2.5)
	m.RecordOutcome(ctx, "too_short", "", 0.1)
	m.RecordOutcome(ctx, "empty", "", 0)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "hark.outcomes", "kind", "recognized"); got != 2 {
		t.Errorf("recognized = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "hark.outcomes", "kind", "empty"); got != 1 {
		t.Errorf("empty = %d, want 1", got)
	}

	met := findMetric(rm, "hark.utterance.duration")
	if met == nil {
		t.Fatal("utterance histogram missing")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 3 {
		t.Errorf("utterance histogram = %+v, want 3 samples", hist.DataPoints)
	}
}

func TestObserveCapture(t *testing.T) {
	m, reader := newTestMetrics(t)

	snap := CaptureSnapshot{
		GateOpen:        true,
		RingUtilization: 0.25,
		RingWrites:      40,
		RingDrops:       3,
		Rebuilds:        1,
	}
	unregister, err := m.ObserveCapture(func() CaptureSnapshot { return snap })
	if err != nil {
		t.Fatalf("ObserveCapture: %v", err)
	}

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "hark.ring.drops", "", ""); got != 3 {
		t.Errorf("drops = %d, want 3", got)
	}
	if got := sumByAttr(t, rm, "hark.capture.rebuilds", "", ""); got != 1 {
		t.Errorf("rebuilds = %d, want 1", got)
	}
	util := findMetric(rm, "hark.ring.utilization")
	if util == nil {
		t.Fatal("utilization gauge missing")
	}
	g := util.Data.(metricdata.Gauge[float64])
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 0.25 {
		t.Errorf("utilization = %+v, want 0.25", g.DataPoints)
	}
	open := findMetric(rm, "hark.capture.gate_open").Data.(metricdata.Gauge[int64])
	if open.DataPoints[0].Value != 1 {
		t.Errorf("gate_open = %d, want 1", open.DataPoints[0].Value)
	}

	if err := unregister(); err != nil {
		t.Fatalf("unregister: %v", err)
	}
}

func TestTracedRecognizer(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	ok := NewTracedRecognizer(&sttmock.Provider{Result: stt.Transcript{Text: "hi", Provider: "deepgram"}}, "primary", m)
	if _, err := ok.Transcribe(ctx, stt.Request{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	silent := NewTracedRecognizer(&sttmock.Provider{Err: stt.ErrNoSpeech}, "primary", m)
	if _, err := silent.Transcribe(ctx, stt.Request{}); !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}

	failing := NewTracedRecognizer(&sttmock.Provider{Err: stt.TransportError("whisper", errors.New("refused"))}, "primary", m)
	if _, err := failing.Transcribe(ctx, stt.Request{}); err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "hark.provider.requests", "provider", "deepgram"); got != 1 {
		t.Errorf("deepgram requests = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "hark.provider.errors", "kind", "transport"); got != 1 {
		t.Errorf("transport errors = %d, want 1", got)
	}
	hist := findMetric(rm, "hark.stt.duration").Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 3 {
		t.Errorf("stt duration samples = %d, want 3", hist.DataPoints[0].Count)
	}
}
