// Package whisper recognizes speech with whisper.cpp.
//
// [Provider] uploads each utterance as a WAV file to a whisper-server
// instance (POST /inference). [NativeProvider] runs the model in process
// through the cgo bindings. whisper.cpp cannot boost keywords, so both turn
// request hints into an initial prompt, which nudges the decoder toward
// those spellings.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("de"))
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: pcm, SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	providerName = "whisper"

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	// maxErrorBody caps how much of a failed response ends up in the error.
	maxErrorBody = 512
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a whisper-server client.
type Provider struct {
	endpoint   string
	model      string
	language   string
	silenceRMS float64
	client     *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model the
// server was started with.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when a request names none.
// Default: "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSilenceRMS reports [stt.ErrNoSpeech] without contacting the server for
// utterances whose RMS energy, in 16-bit sample units, is below rms. Zero
// disables the check.
func WithSilenceRMS(rms float64) Option { return func(p *Provider) { p.silenceRMS = rms } }

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a client for the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL is empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// inferenceResponse is whisper-server's JSON reply.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	sr, ch := requestLayout(req)
	if p.silenceRMS > 0 && computeRMS(req.Audio) < p.silenceRMS {
		return stt.Transcript{}, stt.ErrNoSpeech
	}

	hreq, err := p.newRequest(ctx, req, sr, ch)
	if err != nil {
		return stt.Transcript{}, stt.BackendError(providerName, err)
	}
	res, err := p.do(hreq)
	if err != nil {
		return stt.Transcript{}, err
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || isBlankMarker(text) {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	return stt.Transcript{
		Text:     text,
		Language: res.Language,
		Provider: providerName,
		Duration: audio.PCM16Duration(len(req.Audio), sr, ch),
	}, nil
}

// newRequest builds the multipart upload: the utterance as audio.wav plus
// the optional language, model and prompt fields.
func (p *Provider) newRequest(ctx context.Context, req stt.Request, sampleRate, channels int) (*http.Request, error) {
	wav, err := audio.EncodeWAV(req.Audio, sampleRate, channels)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	file, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := file.Write(wav); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"response_format", "json"},
		{"language", cmp.Or(req.Language, p.language)},
		{"model", p.model},
		{"prompt", stt.Prompt(req.Keywords)},
	} {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("form field %s: %w", f.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", mw.FormDataContentType())
	return hreq, nil
}

// do sends hreq and decodes the reply. Errors come back classified.
func (p *Provider) do(hreq *http.Request) (inferenceResponse, error) {
	var res inferenceResponse
	resp, err := p.client.Do(hreq)
	if err != nil {
		return res, stt.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, stt.TransportError(providerName, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data[:min(len(data), maxErrorBody)]))
		return res, stt.BackendError(providerName, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg))
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, stt.BackendError(providerName, fmt.Errorf("decode response: %w", err))
	}
	if res.Error != "" {
		return res, stt.BackendError(providerName, errors.New(res.Error))
	}
	return res, nil
}
