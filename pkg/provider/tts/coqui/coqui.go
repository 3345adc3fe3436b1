// Package coqui provides a TTS provider that talks to a Coqui TTS server or
// an MMS inference server exposing the same REST API. It implements the
// tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu) and MMS servers that mimic it. Synthesis is
//     performed via GET /api/tts with URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body.
//
// Both servers answer with a complete WAV file, which is decoded into an
// audio.Clip at the model's native sample rate.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithTimeout(30*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, tts.Request{Text: "Καλημέρα", Language: "el"})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"

	// maxErrorBody bounds how much of an error response is quoted in errors.
	maxErrorBody = 512
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent when a request carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithDefaultVoice sets the speaker used when a request carries no voice.
// XTTS mode requires one.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithHTTPClient replaces the HTTP client. The configured timeout is kept
// only if the new client has none.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c.Timeout == 0 {
			c.Timeout = p.httpClient.Timeout
		}
		p.httpClient = c
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a Coqui-compatible TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "coqui" }

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text        string  `json:"text"`
	SpeakerWav  string  `json:"speaker_wav"`
	Language    string  `json:"language"`
	LengthScale float64 `json:"length_scale,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, errors.New("coqui: text must not be empty")
	}
	if req.Language == "" {
		req.Language = p.language
	}
	if req.Voice == "" {
		req.Voice = p.voice
	}

	var (
		httpReq *http.Request
		err     error
	)
	switch p.apiMode {
	case APIModeXTTS:
		httpReq, err = p.xttsRequest(ctx, req)
	default:
		httpReq, err = p.standardRequest(ctx, req)
	}
	if err != nil {
		return audio.Clip{}, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return audio.Clip{}, fmt.Errorf("coqui: %s %s returned status %d: %s",
			httpReq.Method, httpReq.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	return clip, nil
}

// standardRequest builds a GET /api/tts request with URL query parameters.
func (p *Provider) standardRequest(ctx context.Context, req tts.Request) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", req.Text)
	if req.Voice != "" {
		params.Set("speaker_id", req.Voice)
	}
	if req.Language != "" {
		params.Set("language_id", req.Language)
	}
	if req.Model != "" {
		params.Set("model_name", req.Model)
	}
	if req.Speed > 0 && req.Speed != 1 {
		params.Set("length_scale", strconv.FormatFloat(req.Speed, 'g', -1, 64))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")
	return httpReq, nil
}

// xttsRequest builds a POST /tts_to_audio/ request with a JSON body.
func (p *Provider) xttsRequest(ctx context.Context, req tts.Request) (*http.Request, error) {
	if req.Voice == "" {
		return nil, errors.New("coqui: a voice is required in XTTS mode")
	}
	body := ttsRequest{
		Text:       req.Text,
		SpeakerWav: req.Voice,
		Language:   req.Language,
	}
	if req.Speed > 0 && req.Speed != 1 {
		body.LengthScale = req.Speed
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	return httpReq, nil
}
