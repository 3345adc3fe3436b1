package resilience

import (
	"context"
	"strings"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend. The primary's Name labels its breaker.
func NewSynthesizerFallback(primary tts.Provider, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *SynthesizerFallback) AddFallback(p tts.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Synthesize renders the request with the first healthy provider.
//
// Failover changes the voice, and therefore the audio, for a fingerprint. The
// cache stores whichever audio was produced first, so this only matters while
// a primary is down.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Clip, error) {
		return p.Synthesize(ctx, req)
	})
}

// Name joins the provider names in failover order, e.g. "coqui>openai".
func (f *SynthesizerFallback) Name() string { return strings.Join(f.group.Names(), ">") }

// States reports each backend's breaker state.
func (f *SynthesizerFallback) States() map[string]State { return f.group.States() }

// TranscriberFallback implements [stt.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Provider, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *TranscriberFallback) AddFallback(p stt.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Transcribe transcribes the clip with the first healthy provider.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) ([]stt.Word, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) ([]stt.Word, error) {
		return p.Transcribe(ctx, req)
	})
}

// Name joins the provider names in failover order.
func (f *TranscriberFallback) Name() string { return strings.Join(f.group.Names(), ">") }

// States reports each backend's breaker state.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }
