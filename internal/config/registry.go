package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name → constructor table.
type factories[T any] struct {
	kind   string
	byName map[string]Factory[T]
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors for the synthesis and
// transcription backends. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts factories[tts.Provider]
	stt factories[stt.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts: factories[tts.Provider]{kind: "tts", byName: map[string]Factory[tts.Provider]{}},
		stt: factories[stt.Provider]{kind: "stt", byName: map[string]Factory[stt.Provider]{}},
	}
}

// RegisterTTS registers a TTS provider factory under name, replacing any
// previous registration.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = factory
}

// RegisterSTT registers an STT provider factory under name, replacing any
// previous registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = factory
}

// CreateTTS builds the TTS provider named by entry.Name. It returns
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateSTT builds the STT provider named by entry.Name. It returns
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.tts.kind: slices.Sorted(maps.Keys(r.tts.byName)),
		r.stt.kind: slices.Sorted(maps.Keys(r.stt.byName)),
	}
}
