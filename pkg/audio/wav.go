package audio

import (
	"bytes"
	"fmt"

	wav "github.com/youpy/go-wav"
)

// EncodeWAV wraps interleaved little-endian 16-bit PCM in a RIFF/WAVE
// container. At most two channels are supported.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("audio: wav: unsupported channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: wav: invalid sample rate %d", sampleRate)
	}
	samples := PCM16Samples(pcm)
	frames := len(samples) / channels

	ws := make([]wav.Sample, frames)
	for i := range frames {
		for ch := range channels {
			ws[i].Values[ch] = int(samples[i*channels+ch])
		}
	}

	var buf bytes.Buffer
	buf.Grow(44 + frames*channels*2)
	w := wav.NewWriter(&buf, uint32(frames), uint16(channels), uint32(sampleRate), 16)
	if err := w.WriteSamples(ws); err != nil {
		return nil, fmt.Errorf("audio: wav: %w", err)
	}
	return buf.Bytes(), nil
}
