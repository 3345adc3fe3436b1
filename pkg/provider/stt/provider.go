// Package stt defines the Provider interface for speech-to-text backends used
// to recover word timings from synthesized audio.
//
// A provider transcribes one complete clip and reports each recognised word
// with its time interval. The timings are approximate; callers reconcile them
// against the text they already know.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
)

// Request is a single transcription job.
type Request struct {
	// Clip is the audio to transcribe. Providers convert it to the rate and
	// channel layout they need.
	Clip audio.Clip

	// Language is a hint such as "he", "el" or "pt". Empty lets the provider
	// auto-detect.
	Language string

	// Prompt is optional text that biases decoding toward the expected
	// vocabulary. Providers that do not support prompting ignore it.
	Prompt string
}

// Word is one recognised word with its interval in seconds from the start of
// the clip.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe returns the recognised words in time order. An empty slice
	// with a nil error means nothing intelligible was heard.
	Transcribe(ctx context.Context, req Request) ([]Word, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
