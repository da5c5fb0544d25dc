package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// FloatConverter turns native capture buffers (interleaved little-endian
// float32 at an arbitrary rate) into mono little-endian int16 PCM at
// TargetRate.
//
// Resampling is linear interpolation. The converter carries the last input
// sample and the fractional read position across calls, so splitting the
// input into chunks yields the same output as converting it in one piece.
//
// A FloatConverter is owned by a single goroutine. [FloatConverter.Failures]
// may be read concurrently.
type FloatConverter struct {
	// TargetRate is the output sample rate in Hz.
	TargetRate int

	inRate   float64
	channels int
	step     float64 // input frames consumed per output frame
	pos      float64 // read position relative to the next buffer; -1 addresses prev
	prev     float32

	failures    atomic.Uint64
	warnedAlign sync.Once
	warnedRate  sync.Once
}

// NewFloatConverter returns a converter producing mono int16 at targetRate.
// Call [FloatConverter.Ensure] before the first [FloatConverter.Convert].
func NewFloatConverter(targetRate int) *FloatConverter {
	return &FloatConverter{TargetRate: targetRate}
}

// Ensure configures the converter for input at rate Hz with the given number
// of interleaved channels. The resampler is rebuilt, discarding carried
// state, only when rate differs from the configured rate by more than
// [RateTolerance] or the channel count changes. It reports whether a rebuild
// happened.
func (c *FloatConverter) Ensure(rate float64, channels int) bool {
	if c.channels == channels && math.Abs(c.inRate-rate) <= RateTolerance && c.step > 0 {
		return false
	}
	c.inRate = rate
	c.channels = channels
	c.pos = 0
	c.prev = 0
	c.step = 0
	if rate > 0 && c.TargetRate > 0 && channels > 0 {
		c.step = rate / float64(c.TargetRate)
	}
	return true
}

// Reset drops carried resampler state without changing the configuration.
func (c *FloatConverter) Reset() {
	c.pos = 0
	c.prev = 0
}

// InputFormat returns the format last passed to Ensure.
func (c *FloatConverter) InputFormat() Format {
	return Format{SampleRate: c.inRate, Channels: c.channels}
}

// Failures returns the number of buffers rejected since construction.
func (c *FloatConverter) Failures() uint64 { return c.failures.Load() }

// Convert converts one native buffer. It returns nil for empty input and for
// input it cannot convert (misaligned length, unconfigured or invalid rate);
// the latter is counted in Failures.
func (c *FloatConverter) Convert(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	if c.step <= 0 || math.IsNaN(c.step) || math.IsInf(c.step, 0) {
		c.failures.Add(1)
		c.warnedRate.Do(func() {
			slog.Warn("audio converter: no valid input format configured, dropping buffers",
				"inRate", c.inRate,
				"channels", c.channels,
				"targetRate", c.TargetRate,
			)
		})
		return nil
	}
	frameBytes := 4 * c.channels
	if len(raw)%frameBytes != 0 {
		c.failures.Add(1)
		c.warnedAlign.Do(func() {
			slog.Warn("audio converter: buffer length not a whole number of frames, dropping",
				"bytes", len(raw),
				"channels", c.channels,
			)
		})
		return nil
	}

	n := len(raw) / frameBytes

	if math.Abs(c.step-1) < 1e-12 && c.pos == 0 {
		out := make([]byte, 0, n*2)
		for i := range n {
			out = appendPCM16(out, c.frame(raw, i))
		}
		c.prev = c.frame(raw, n-1)
		return out
	}

	estimate := int(float64(n)/c.step) + 2
	out := make([]byte, 0, estimate*2)
	last := float64(n - 1)
	for c.pos <= last {
		i := int(math.Floor(c.pos))
		frac := float32(c.pos - float64(i))
		var s0 float32
		if i < 0 {
			s0 = c.prev
		} else {
			s0 = c.frame(raw, i)
		}
		s := s0
		if frac > 0 && i+1 < n {
			s1 := c.frame(raw, i+1)
			s = s0 + frac*(s1-s0)
		}
		out = appendPCM16(out, s)
		c.pos += c.step
	}
	c.pos -= float64(n)
	c.prev = c.frame(raw, n-1)
	return out
}

// frame returns the channel-averaged sample of frame i.
func (c *FloatConverter) frame(raw []byte, i int) float32 {
	off := i * 4 * c.channels
	if c.channels == 1 {
		return readFloat(raw[off:])
	}
	var sum float32
	for ch := range c.channels {
		sum += readFloat(raw[off+ch*4:])
	}
	return sum / float32(c.channels)
}

func readFloat(b []byte) float32 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(b))
	if v != v || math.IsInf(float64(v), 0) {
		return 0
	}
	return v
}

// appendPCM16 clamps s to [-1, 1], scales by 32767, and appends it as
// little-endian int16.
func appendPCM16(dst []byte, s float32) []byte {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int16(math.Round(float64(s) * 32767))
	return binary.LittleEndian.AppendUint16(dst, uint16(v))
}

// Float32Bytes encodes samples as little-endian float32.
func Float32Bytes(samples []float32) []byte {
	out := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(s))
	}
	return out
}

// PCM16Samples decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func PCM16Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
