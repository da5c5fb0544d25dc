package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(values ...int16) []byte {
	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestPcmToFloat32Mono_FullScale(t *testing.T) {
	tests := []struct {
		name  string
		value int16
		want  float32
	}{
		{"max positive", 32767, 32767.0 / 32768.0},
		{"max negative", -32768, -1.0},
		{"zero", 0, 0.0},
		{"mid negative", -16384, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := pcmToFloat32Mono(pcm16(tt.value), 1)
			if len(out) != 1 || math.Abs(float64(out[0]-tt.want)) > 1e-6 {
				t.Errorf("pcmToFloat32Mono(%d) = %v; want [%f]", tt.value, out, tt.want)
			}
		})
	}
}

func TestPcmToFloat32Mono_Stereo(t *testing.T) {
	out := pcmToFloat32Mono(pcm16(16384, -16384, 16384, 16384), 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(out))
	}
	if out[0] != 0 {
		t.Errorf("frame 0 = %f; want 0", out[0])
	}
	if math.Abs(float64(out[1]-0.5)) > 1e-6 {
		t.Errorf("frame 1 = %f; want 0.5", out[1])
	}
}

func TestPcmToFloat32Mono_PartialFrameIgnored(t *testing.T) {
	out := pcmToFloat32Mono(append(pcm16(100, 200, 300), 0x7f), 2)
	if len(out) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(out))
	}
}

func TestIsBlankMarker(t *testing.T) {
	for _, s := range []string{"[BLANK_AUDIO]", "(silence)", " [ BLANK_AUDIO ] "} {
		if !isBlankMarker(s) {
			t.Errorf("isBlankMarker(%q) = false", s)
		}
	}
	if isBlankMarker("hello") {
		t.Error("isBlankMarker(hello) = true")
	}
}

func TestComputeRMS(t *testing.T) {
	if got := computeRMS(nil); got != 0 {
		t.Errorf("computeRMS(nil) = %f", got)
	}
	if got := computeRMS(pcm16(1000, -1000, 1000, -1000)); math.Abs(got-1000) > 1e-9 {
		t.Errorf("computeRMS = %f; want 1000", got)
	}
}
