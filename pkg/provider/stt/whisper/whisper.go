// Package whisper provides whisper.cpp-backed transcription providers that
// report word-level timings.
//
// Provider talks to a running whisper-server binary over its REST API
// (POST /inference). NativeProvider links whisper.cpp through its Go bindings
// and runs inference in-process. Both decode deterministically (temperature
// 0) and request one word per segment so segment boundaries become word
// boundaries.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("he"))
//	words, err := p.Transcribe(ctx, stt.Request{Clip: clip, Prompt: text})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
)

const (
	// whisperSampleRate is the only rate whisper models accept.
	whisperSampleRate = 16000

	inferenceEndpoint = "/inference"
	defaultTimeout    = 60 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the server when a
// request carries none. Empty means auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// verboseResponse is the subset of the server's verbose_json output we use.
type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe resamples the clip to 16 kHz mono, uploads it as a WAV file and
// converts the verbose_json segments into words.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) ([]stt.Word, error) {
	clip := audio.Resample(req.Clip, whisperSampleRate)
	wav := audio.EncodeWAV(clip)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0",
		"temperature_inc": "0",
		"max_len":         "1",
		"split_on_word":   "true",
	}
	if lang != "" {
		fields["language"] = lang
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferenceEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result verboseResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	var segs []segment
	for _, s := range result.Segments {
		if len(s.Words) > 0 {
			for _, w := range s.Words {
				segs = append(segs, segment{text: w.Word, start: w.Start, end: w.End})
			}
			continue
		}
		segs = append(segs, segment{text: s.Text, start: s.Start, end: s.End})
	}
	return collectWords(segs), nil
}
