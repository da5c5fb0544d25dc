package openai

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

// fakeAPI serves POST /audio/transcriptions and records the form fields.
type fakeAPI struct {
	status int
	body   string

	mu     sync.Mutex
	fields map[string]string
	file   []byte
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		f.mu.Lock()
		f.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.fields[k] = v[0]
		}
		if file, _, err := r.FormFile("file"); err == nil {
			f.file, _ = io.ReadAll(file)
			file.Close()
		}
		f.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.body)
}

func newTestProvider(t *testing.T, api *fakeAPI, model string) *Provider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	p, err := New("sk-test", model, WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "whisper-1" {
		t.Errorf("expected default model whisper-1, got %s", p.ModelID())
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestTranscribe_SendsWAVAndHints(t *testing.T) {
	api := &fakeAPI{body: `{"text":" deploy the canary "}`}
	p := newTestProvider(t, api, "")

	pcm := make([]byte, 3200)
	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio:      pcm,
		SampleRate: 16000,
		Channels:   1,
		Language:   "de-DE",
		Keywords:   []stt.Hint{{Term: "canary", Boost: 2}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "deploy the canary" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Provider != "openai" {
		t.Errorf("Provider = %q", tr.Provider)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.fields["model"] != "whisper-1" {
		t.Errorf("model field = %q", api.fields["model"])
	}
	if api.fields["language"] != "de" {
		t.Errorf("language field = %q, want de", api.fields["language"])
	}
	if api.fields["prompt"] != "canary" {
		t.Errorf("prompt field = %q", api.fields["prompt"])
	}
	if len(api.file) != 44+len(pcm) || string(api.file[:4]) != "RIFF" {
		t.Errorf("uploaded file: %d bytes", len(api.file))
	}
}

func TestTranscribe_EmptyText_IsNoSpeech(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{body: `{"text":""}`}, "")
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_APIError_IsBackendFailure(t *testing.T) {
	api := &fakeAPI{status: http.StatusBadRequest, body: `{"error":{"message":"bad file","type":"invalid_request_error"}}`}
	p := newTestProvider(t, api, "")
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err == nil || stt.Classify(err) != stt.FailureBackend {
		t.Errorf("err = %v, want backend failure", err)
	}
}

func TestTranscribe_Unreachable_IsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(url), WithMaxRetries(0))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err == nil || stt.Classify(err) != stt.FailureTransport {
		t.Errorf("err = %v, want transport failure", err)
	}
}

func TestTranscribe_LogprobConfidence(t *testing.T) {
	api := &fakeAPI{body: `{"text":"yes","logprobs":[{"token":"yes","logprob":0,"bytes":[121]}]}`}
	p := newTestProvider(t, api, "gpt-4o-transcribe")
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if math.Abs(tr.Confidence-1) > 1e-9 {
		t.Errorf("Confidence = %f, want 1", tr.Confidence)
	}
}
