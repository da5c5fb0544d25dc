package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 3200) // 100 ms mono at 16 kHz
	binary.LittleEndian.PutUint16(pcm[0:], uint16(1234))

	out, err := audio.EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic: %q", out[:12])
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(out[36:40]) != "data" {
		t.Fatalf("data chunk id = %q", out[36:40])
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 3200 {
		t.Errorf("data size = %d, want 3200", got)
	}
	if len(out) != 44+3200 {
		t.Errorf("total length = %d, want %d", len(out), 44+3200)
	}
	if got := int16(binary.LittleEndian.Uint16(out[44:])); got != 1234 {
		t.Errorf("first sample = %d, want 1234", got)
	}
}

func TestEncodeWAV_RejectsBadLayout(t *testing.T) {
	t.Parallel()

	if _, err := audio.EncodeWAV(nil, 16000, 3); err == nil {
		t.Error("expected error for 3 channels")
	}
	if _, err := audio.EncodeWAV(nil, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
