package stt_test

import (
	"testing"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

func TestPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hints []stt.Hint
		want  string
	}{
		{nil, ""},
		{[]stt.Hint{{Term: ""}}, ""},
		{[]stt.Hint{{Term: "Eldrinax", Boost: 5}}, "Eldrinax"},
		{[]stt.Hint{{Term: "Kubernetes", Boost: 5}, {Term: ""}, {Term: "etcd"}}, "Kubernetes, etcd"},
	}
	for _, tt := range tests {
		if got := stt.Prompt(tt.hints); got != tt.want {
			t.Errorf("Prompt(%v) = %q, want %q", tt.hints, got, tt.want)
		}
	}
}

func TestMeanWordConfidence(t *testing.T) {
	t.Parallel()

	words := []stt.Word{
		{Text: "light", Confidence: 0.9},
		{Text: "the"},
		{Text: "beacons", Confidence: 0.5},
	}
	if got := stt.MeanWordConfidence(words); got < 0.6999 || got > 0.7001 {
		t.Errorf("MeanWordConfidence = %v, want 0.7", got)
	}
	if got := stt.MeanWordConfidence([]stt.Word{{Text: "the"}}); got != 0 {
		t.Errorf("unscored words = %v, want 0", got)
	}
}
