// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Word timings come from the verbose_json response with
// word-level timestamp granularity.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the default language for requests that carry none.
func WithLanguage(language string) Option {
	return func(c *config) {
		c.language = language
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// verboseTranscription is the subset of the verbose_json response we read.
type verboseTranscription struct {
	Text  string `json:"text"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) ([]stt.Word, error) {
	wav := audio.EncodeWAV(audio.Mono(req.Clip))
	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:                  p.model,
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
		Temperature:            param.NewOpt(0.0),
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if req.Prompt != "" {
		params.Prompt = param.NewOpt(req.Prompt)
	}

	var out verboseTranscription
	if _, err := p.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&out)); err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	words := make([]stt.Word, 0, len(out.Words))
	for _, w := range out.Words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		end := w.End
		if end < w.Start {
			end = w.Start
		}
		words = append(words, stt.Word{Text: text, Start: w.Start, End: end})
	}
	return words, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }
