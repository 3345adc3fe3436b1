// Package mock provides a test double for the stt.Provider interface.
//
// Configure Words or Err for a fixed answer, or set EchoPrompt to have the
// mock "hear" the request prompt spread evenly over the clip. Every call is
// recorded for later inspection.
//
// Example:
//
//	p := &mock.Provider{Words: []stt.Word{{Text: "שלום", Start: 0, End: 0.5}}}
//	words, _ := p.Transcribe(ctx, stt.Request{Clip: clip})
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Words is returned by Transcribe when EchoPrompt is false.
	Words []stt.Word

	// Err, if non-nil, is returned instead of any words.
	Err error

	// EchoPrompt makes Transcribe return the whitespace-separated prompt
	// words, each given an equal share of the clip duration.
	EchoPrompt bool

	// Delay blocks each call for the given time or until ctx is done.
	Delay time.Duration

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// --- Call records ---

	// Calls records every request passed to Transcribe, in order.
	Calls []stt.Request
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) ([]stt.Word, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	delay, err, echo := p.Delay, p.Err, p.EchoPrompt
	words := append([]stt.Word(nil), p.Words...)
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if echo {
		return echoWords(req), nil
	}
	return words, nil
}

func echoWords(req stt.Request) []stt.Word {
	fields := strings.Fields(req.Prompt)
	if len(fields) == 0 {
		return nil
	}
	slot := req.Clip.Seconds() / float64(len(fields))
	out := make([]stt.Word, len(fields))
	for i, f := range fields {
		out[i] = stt.Word{Text: f, Start: float64(i) * slot, End: float64(i+1) * slot}
	}
	return out
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
