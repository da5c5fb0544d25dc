package audio

import (
	"fmt"
	"math"
	"time"
)

// RateTolerance is the largest sample-rate difference, in Hz, that is still
// treated as the same rate. Native back ends often report rates such as
// 47999.99 for a nominal 48 kHz stream.
const RateTolerance = 1e-3

// Format describes the layout of an interleaved audio stream.
type Format struct {
	// SampleRate in Hz. Native capture rates may be fractional.
	SampleRate float64

	// Channels is the number of interleaved channels per frame.
	Channels int
}

// Valid reports whether f has a positive finite rate and at least one channel.
func (f Format) Valid() bool {
	return f.Channels > 0 && f.SampleRate > 0 && !math.IsInf(f.SampleRate, 0) && !math.IsNaN(f.SampleRate)
}

// Equal reports whether f and o describe the same stream layout within
// [RateTolerance].
func (f Format) Equal(o Format) bool {
	return f.Channels == o.Channels && math.Abs(f.SampleRate-o.SampleRate) <= RateTolerance
}

func (f Format) String() string {
	if f.SampleRate == math.Trunc(f.SampleRate) {
		return fmt.Sprintf("%dHz/%dch", int(f.SampleRate), f.Channels)
	}
	return fmt.Sprintf("%.3fHz/%dch", f.SampleRate, f.Channels)
}

// Device identifies a capture endpoint. The zero value means the system
// default input.
type Device struct {
	ID   string
	Name string
}

func (d Device) String() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.ID != "":
		return d.ID
	default:
		return "default"
	}
}

// PCM16Duration returns the play-out duration of n bytes of interleaved
// 16-bit PCM at the given rate and channel count.
func PCM16Duration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// PCM16Bytes returns the number of bytes needed to hold d of interleaved
// 16-bit PCM at the given rate and channel count.
func PCM16Bytes(d time.Duration, sampleRate, channels int) int {
	if d <= 0 || sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := int64(d) * int64(sampleRate) / int64(time.Second)
	return int(frames) * 2 * channels
}
