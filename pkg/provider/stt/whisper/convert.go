package whisper

import (
	"math"
	"strings"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// requestLayout fills in 16 kHz mono for unset request fields.
func requestLayout(req stt.Request) (sampleRate, channels int) {
	sampleRate, channels = req.SampleRate, req.Channels
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return sampleRate, max(channels, 1)
}

// pcmToFloat32Mono converts 16-bit little-endian PCM to float32 in [-1, 1],
// averaging the channels of each frame. A trailing partial frame is dropped.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	samples := audio.PCM16Samples(pcm)
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += float32(s) / 32768
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// computeRMS is the root-mean-square of 16-bit PCM in sample units, 0 to
// 32767. Empty input yields 0.
func computeRMS(pcm []byte) float64 {
	samples := audio.PCM16Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// isBlankMarker matches the placeholders whisper.cpp prints for silence,
// such as "[BLANK_AUDIO]".
func isBlankMarker(text string) bool {
	switch strings.ToUpper(strings.Trim(text, " []()")) {
	case "BLANK_AUDIO", "SILENCE", "NO SPEECH":
		return true
	}
	return false
}
