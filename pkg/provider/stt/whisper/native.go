// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely.
//
// The model is loaded exactly once per provider, either by [NativeProvider.Load]
// at startup or by the first Transcribe call. A whisper context is not
// reentrant and inference saturates the CPU, so calls are serialised.
type NativeProvider struct {
	modelPath string
	language  string
	threads   uint

	loadOnce sync.Once
	model    whisperlib.Model
	loadErr  error

	mu sync.Mutex // serialises inference
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for requests that carry
// none. Empty means auto-detect.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider for the model file at modelPath. The
// file must exist; it is read by [NativeProvider.Load]. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper: model %q: %w", modelPath, err)
	}
	p := &NativeProvider{modelPath: modelPath}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load reads the model into memory. It runs at most once; later calls return
// the result of the first.
func (p *NativeProvider) Load() error {
	p.loadOnce.Do(func() {
		slog.Info("whisper: loading model", "path", p.modelPath)
		p.model, p.loadErr = whisperlib.New(p.modelPath)
		if p.loadErr != nil {
			p.loadErr = fmt.Errorf("whisper: load model %q: %w", p.modelPath, p.loadErr)
		}
	})
	return p.loadErr
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

// Name implements stt.Provider.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Transcribe runs inference on the clip. ctx is checked before waiting for
// and before starting inference; a running inference is not interruptible.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) ([]stt.Word, error) {
	if err := p.Load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	samples := audio.Float32(audio.Resample(req.Clip, whisperSampleRate))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if p.model == nil {
		return nil, errors.New("whisper: provider is closed")
	}

	// Each context is NOT thread-safe; a fresh one per call keeps no state
	// between requests.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	wctx.SetTemperature(0)
	wctx.SetTokenTimestamps(true)
	wctx.SetMaxSegmentLength(1)
	wctx.SetSplitOnWord(true)
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segs []segment
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segs = append(segs, segment{text: s.Text, start: s.Start.Seconds(), end: s.End.Seconds()})
	}
	return collectWords(segs), nil
}
