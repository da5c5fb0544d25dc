package audio

// FrameSink receives raw capture buffers from an [Engine].
//
// WriteFrames is invoked on the engine's real-time thread. Implementations
// must not block, allocate, take locks, or log. data holds interleaved
// little-endian float32 samples laid out according to f and is only valid for
// the duration of the call.
type FrameSink interface {
	WriteFrames(data []byte, f Format)
}

// Engine abstracts a native audio input back end.
//
// Implementations must be safe for concurrent use. Start and Stop are never
// called from the real-time thread.
type Engine interface {
	// Start begins delivering capture buffers to sink. Calling Start on a
	// running engine returns an error.
	Start(sink FrameSink) error

	// Stop halts delivery. When Stop returns, no further WriteFrames calls for
	// the previous sink are in flight. Stopping a stopped engine is a no-op.
	Stop() error

	// Format returns the format the engine currently delivers (or will
	// deliver on the next Start).
	Format() Format

	// Device returns the active input device.
	Device() Device

	// Changes fires whenever the engine's configuration changes underneath
	// it (device swap, device loss, rate change). The channel is never
	// closed; a single pending notification may stand in for several
	// changes.
	Changes() <-chan struct{}
}
