// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. Each utterance is streamed over its own connection and
// the final results are collected once Deepgram has flushed.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	providerName      = "deepgram"
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is the size of each binary audio message (250 ms at 16 kHz mono).
	chunkBytes = 8000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when a request carries
// none (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.Audio to Deepgram, asks it to flush, and returns the
// concatenation of all final results.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	wsURL, err := p.buildURL(req)
	if err != nil {
		return stt.Transcript{}, stt.BackendError(providerName, fmt.Errorf("build URL: %w", err))
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return stt.Transcript{}, stt.BackendError(providerName, fmt.Errorf("dial: HTTP %d: %w", resp.StatusCode, err))
		}
		return stt.Transcript{}, stt.TransportError(providerName, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var acc accumulator
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sendAudio(gctx, conn, req.Audio)
	})
	g.Go(func() error {
		return acc.readResults(gctx, conn)
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	tr := acc.transcript()
	if tr.Text == "" {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	sr, ch := req.SampleRate, req.Channels
	if sr <= 0 {
		sr = defaultSampleRate
	}
	if ch <= 0 {
		ch = 1
	}
	tr.Duration = audio.PCM16Duration(len(req.Audio), sr, ch)
	return tr, nil
}

// buildURL constructs the Deepgram endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))

	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		val := fmt.Sprintf("%s:%g", kw.Term, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sendAudio writes pcm in binary chunks followed by a CloseStream request,
// which makes Deepgram flush its final results.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return stt.TransportError(providerName, fmt.Errorf("write audio: %w", err))
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.TransportError(providerName, fmt.Errorf("write close stream: %w", err))
	}
	return nil
}

// ---- results ----

// deepgramResponse is the JSON structure of a Deepgram live message.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []stt.Word
}

// accumulator collects final results. It is only touched by the read loop
// until the errgroup has finished.
type accumulator struct {
	parts      []string
	words      []stt.Word
	confidence float64
	finals     int
}

// readResults consumes messages until Deepgram sends its Metadata summary or
// closes the connection normally.
func (a *accumulator) readResults(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return stt.TransportError(providerName, fmt.Errorf("read: %w", err))
		}

		var head struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		switch head.Type {
		case "Metadata":
			return nil
		case "Error":
			return stt.BackendError(providerName, errors.New(head.Description))
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.IsFinal {
			continue
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			a.parts = append(a.parts, text)
			a.words = append(a.words, r.Words...)
			a.confidence += r.Confidence
			a.finals++
		}
	}
}

func (a *accumulator) transcript() stt.Transcript {
	tr := stt.Transcript{
		Text:     strings.Join(a.parts, " "),
		Words:    a.words,
		Provider: providerName,
	}
	if a.finals > 0 {
		tr.Confidence = a.confidence / float64(a.finals)
	}
	return tr
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a result.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.Word{
			Text:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return result{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}
