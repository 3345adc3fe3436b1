// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a Coqui or MMS inference
// server, the OpenAI speech API, ...) and turns one complete text into one
// complete clip of PCM audio. Alignment needs the whole waveform, so there is
// no streaming variant.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
)

// Request is a single synthesis job.
type Request struct {
	// Text is the exact text to speak. Providers must not rewrite it.
	Text string

	// Language is the ISO 639-1 code of Text (e.g., "he", "el", "pt").
	Language string

	// Model is the provider-specific model identifier, such as
	// "facebook/mms-tts-heb" or "tts-1". Empty selects the provider default.
	Model string

	// Speed is the speaking-rate multiplier. 1.0 is the model's natural rate;
	// values above 1.0 produce longer, slower audio.
	Speed float64

	// Voice is an optional provider-specific speaker or voice identifier.
	Voice string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text to audio. The returned clip carries its own
	// sample rate and channel count; callers must not assume a fixed format.
	//
	// Returns an error if the backend cannot be reached, rejects the request,
	// or returns audio that cannot be decoded.
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
