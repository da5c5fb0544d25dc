package transcript_test

import (
	"testing"

	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

var terms = []string{"Eldrinax", "Tower of Whispers"}

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()
	c := transcript.NewCorrector(terms)

	tests := []struct {
		name  string
		in    string
		want  string
		fixes []string
	}{
		{
			name:  "misspelled single word",
			in:    "we spoke to eldrinacks yesterday.",
			want:  "we spoke to Eldrinax yesterday.",
			fixes: []string{"eldrinacks"},
		},
		{
			name:  "split word keeps punctuation",
			in:    "Elder nacks, lives here",
			want:  "Eldrinax, lives here",
			fixes: []string{"Elder nacks,"},
		},
		{
			name:  "multi-word term",
			in:    "we reached the tower of wispers at dawn",
			want:  "we reached the Tower of Whispers at dawn",
			fixes: []string{"tower of wispers"},
		},
		{
			name:  "casing only",
			in:    "eldrinax waits",
			want:  "Eldrinax waits",
			fixes: []string{"eldrinax"},
		},
		{
			name: "already correct",
			in:   "Eldrinax is here",
			want: "Eldrinax is here",
		},
		{
			name: "unrelated text",
			in:   "the weather is nice",
			want: "the weather is nice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, fixes := c.Correct(tt.in)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(fixes) != len(tt.fixes) {
				t.Fatalf("corrections = %+v, want originals %q", fixes, tt.fixes)
			}
			for i, f := range fixes {
				if f.Original != tt.fixes[i] {
					t.Errorf("correction[%d].Original = %q, want %q", i, f.Original, tt.fixes[i])
				}
				if f.Confidence <= 0 || f.Confidence > 1 {
					t.Errorf("correction[%d].Confidence = %f", i, f.Confidence)
				}
			}
		})
	}
}

func TestCorrector_EmptyVocabulary(t *testing.T) {
	t.Parallel()
	c := transcript.NewCorrector(nil)
	got, fixes := c.Correct("anything  at all")
	if got != "anything  at all" || fixes != nil {
		t.Errorf("Correct = %q, %v; want input unchanged", got, fixes)
	}
}

func TestCorrector_CorrectTranscript(t *testing.T) {
	t.Parallel()
	c := transcript.NewCorrector(terms)
	in := stt.Transcript{
		Text:       "ask eldrinacks",
		Confidence: 0.7,
		Provider:   "deepgram",
		Words:      []stt.Word{{Text: "ask"}, {Text: "eldrinacks"}},
	}

	out, fixes := c.CorrectTranscript(in)
	if out.Text != "ask Eldrinax" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Provider != "deepgram" || out.Confidence != 0.7 || len(out.Words) != 2 {
		t.Errorf("metadata not preserved: %+v", out)
	}
	if len(fixes) != 1 || fixes[0].Corrected != "Eldrinax" {
		t.Errorf("corrections = %+v", fixes)
	}
	if in.Text != "ask eldrinacks" {
		t.Error("input transcript was modified")
	}
}
