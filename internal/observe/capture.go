package observe

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// CaptureSnapshot is the subset of pipeline state exported as asynchronous
// instruments.
type CaptureSnapshot struct {
	GateOpen           bool
	RingUtilization    float64
	RingWrites         uint64
	RingDrops          uint64
	RingDropBytes      uint64
	StaleRecords       uint64
	ConversionFailures uint64
	FormatDrifts       uint64
	Rebuilds           uint64
}

// ObserveCapture registers asynchronous instruments that read the pipeline
// through snapshot on every collection. The returned function unregisters
// them.
func (m *Metrics) ObserveCapture(snapshot func() CaptureSnapshot) (unregister func() error, err error) {
	gateOpen, err := m.meter.Int64ObservableGauge("hark.capture.gate_open",
		metric.WithDescription("1 while a push-to-talk epoch is open."),
	)
	if err != nil {
		return nil, err
	}
	util, err := m.meter.Float64ObservableGauge("hark.ring.utilization",
		metric.WithDescription("Fraction of the capture ring in use."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	counters := []struct {
		name, desc string
		read       func(CaptureSnapshot) uint64
		inst       metric.Int64ObservableCounter
	}{
		{name: "hark.ring.writes", desc: "Records accepted by the capture ring.",
			read: func(s CaptureSnapshot) uint64 { return s.RingWrites }},
		{name: "hark.ring.drops", desc: "Records dropped because the capture ring was full.",
			read: func(s CaptureSnapshot) uint64 { return s.RingDrops }},
		{name: "hark.ring.drop_bytes", desc: "Payload bytes dropped because the capture ring was full.",
			read: func(s CaptureSnapshot) uint64 { return s.RingDropBytes }},
		{name: "hark.capture.stale_records", desc: "Records discarded for belonging to a superseded engine generation.",
			read: func(s CaptureSnapshot) uint64 { return s.StaleRecords }},
		{name: "hark.capture.conversion_failures", desc: "Native buffers the converter rejected.",
			read: func(s CaptureSnapshot) uint64 { return s.ConversionFailures }},
		{name: "hark.capture.format_drifts", desc: "Callbacks delivered in a format other than the active generation's.",
			read: func(s CaptureSnapshot) uint64 { return s.FormatDrifts }},
		{name: "hark.capture.rebuilds", desc: "Engine rebuilds after a format or device change.",
			read: func(s CaptureSnapshot) uint64 { return s.Rebuilds }},
	}
	observables := []metric.Observable{gateOpen, util}
	for i := range counters {
		c := &counters[i]
		if c.inst, err = m.meter.Int64ObservableCounter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
		observables = append(observables, c.inst)
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		var open int64
		if s.GateOpen {
			open = 1
		}
		o.ObserveInt64(gateOpen, open)
		o.ObserveFloat64(util, s.RingUtilization)
		for _, c := range counters {
			o.ObserveInt64(c.inst, int64(c.read(s)))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}
