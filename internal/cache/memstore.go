package cache

import (
	"context"
	"slices"
	"sync"
)

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store]. Alignments are keyed by audio ID and
// removed together with their parent.
type MemoryStore struct {
	mu         sync.RWMutex
	byFP       map[string]AudioEntry
	byID       map[string]string // audio ID -> fingerprint
	alignments map[string]AlignmentEntry
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byFP:       make(map[string]AudioEntry),
		byID:       make(map[string]string),
		alignments: make(map[string]AlignmentEntry),
	}
}

// GetAudio implements [Store].
func (s *MemoryStore) GetAudio(_ context.Context, fingerprint string) (AudioEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byFP[fingerprint]
	if !ok {
		return AudioEntry{}, ErrNotFound
	}
	return e, nil
}

// GetAudioByID implements [Store].
func (s *MemoryStore) GetAudioByID(_ context.Context, id string) (AudioEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.byID[id]
	if !ok {
		return AudioEntry{}, ErrNotFound
	}
	return s.byFP[fp], nil
}

// PutAudio implements [Store].
func (s *MemoryStore) PutAudio(_ context.Context, e AudioEntry) (AudioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byFP[e.Fingerprint]; ok {
		return existing, nil
	}
	s.byFP[e.Fingerprint] = e
	s.byID[e.ID] = e.Fingerprint
	return e, nil
}

// GetAlignment implements [Store].
func (s *MemoryStore) GetAlignment(_ context.Context, audioID string) (AlignmentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alignments[audioID]
	if !ok {
		return AlignmentEntry{}, ErrNotFound
	}
	return a, nil
}

// PutAlignment implements [Store].
func (s *MemoryStore) PutAlignment(_ context.Context, e AlignmentEntry) (AlignmentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[e.AudioID]; !ok {
		return AlignmentEntry{}, ErrConsistency
	}
	if existing, ok := s.alignments[e.AudioID]; ok {
		return existing, nil
	}
	s.alignments[e.AudioID] = e
	return e, nil
}

// DeleteAudio implements [Store].
func (s *MemoryStore) DeleteAudio(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byFP[fingerprint]
	if !ok {
		return nil
	}
	delete(s.byFP, fingerprint)
	delete(s.byID, e.ID)
	delete(s.alignments, e.ID)
	return nil
}

// DeleteAlignment implements [Store].
func (s *MemoryStore) DeleteAlignment(_ context.Context, audioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alignments, audioID)
	return nil
}

// ListAudio implements [Store].
func (s *MemoryStore) ListAudio(_ context.Context) ([]AudioEntry, error) {
	s.mu.RLock()
	out := make([]AudioEntry, 0, len(s.byFP))
	for _, e := range s.byFP {
		out = append(out, e)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b AudioEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// insertOrphanAlignment stores an alignment without checking its parent.
// It exists so tests can reproduce a store that lost referential integrity.
func (s *MemoryStore) insertOrphanAlignment(e AlignmentEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alignments[e.AudioID] = e
}
