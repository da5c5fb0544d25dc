package capture

import "github.com/MrWong99/hark/pkg/audio/ring"

// Status is a point-in-time view of the pipeline for diagnostics.
type Status struct {
	Gate      GateSnapshot
	Ring      ring.Stats
	Producer  ProducerStats
	Assembler AssemblerStats
	Timings   Timings

	// Last is the most recent outcome; HasLast reports whether there is one.
	Last    Outcome
	HasLast bool
}

// Status collects the pipeline's counters. Values are read independently
// and may be mutually inconsistent by a few records.
func (p *Pipeline) Status() Status {
	last, ok := p.LastOutcome()
	return Status{
		Gate:      p.gate.Snapshot(),
		Ring:      p.ring.Stats(),
		Producer:  p.producer.Stats(),
		Assembler: p.assembler.Stats(),
		Timings:   p.assembler.Timings(),
		Last:      last,
		HasLast:   ok,
	}
}
