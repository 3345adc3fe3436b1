// Package mock provides a test double for the tts.Provider interface.
//
// By default Synthesize renders a quiet 220 Hz tone whose length is
// proportional to the number of runes in the text and to the requested speed,
// so alignment code sees realistic, deterministic durations. Set Clip to
// return fixed audio instead, or Err to simulate a backend failure.
//
// Example:
//
//	p := &mock.Provider{SecondsPerRune: 0.05}
//	clip, _ := p.Synthesize(ctx, tts.Request{Text: "שלום עולם", Speed: 1})
package mock

import (
	"context"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

const (
	// DefaultSampleRate matches the MMS VITS models.
	DefaultSampleRate = 16000

	// DefaultSecondsPerRune gives roughly natural speech pacing.
	DefaultSecondsPerRune = 0.06

	toneHz        = 220.0
	toneAmplitude = 3000.0
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clip, when it has PCM, is returned verbatim instead of a generated tone.
	Clip audio.Clip

	// Err, if non-nil, is returned instead of any audio.
	Err error

	// SampleRate of generated tones. Defaults to DefaultSampleRate.
	SampleRate int

	// SecondsPerRune scales generated durations. Defaults to
	// DefaultSecondsPerRune.
	SecondsPerRune float64

	// Delay blocks each call for the given time or until ctx is done.
	Delay time.Duration

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// --- Call records ---

	// Calls records every request passed to Synthesize, in order.
	Calls []tts.Request
}

// Synthesize records the call and returns the configured or generated audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	delay, err, fixed := p.Delay, p.Err, p.Clip
	rate, perRune := p.SampleRate, p.SecondsPerRune
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	if len(fixed.PCM) > 0 {
		return fixed, nil
	}

	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if perRune <= 0 {
		perRune = DefaultSecondsPerRune
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	seconds := float64(utf8.RuneCountInString(req.Text)) * perRune * speed
	return Tone(seconds, rate), nil
}

// Tone returns a mono clip of the given length holding a quiet sine tone.
func Tone(seconds float64, rate int) audio.Clip {
	n := int(math.Round(seconds * float64(rate)))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(toneAmplitude * math.Sin(2*math.Pi*toneHz*float64(i)/float64(rate)))
	}
	return audio.Clip{PCM: audio.FromInt16(samples), SampleRate: rate, Channels: 1}
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// CallCount returns the number of Synthesize calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
