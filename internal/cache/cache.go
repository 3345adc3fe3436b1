// Package cache implements the two-level content-addressed cache for
// synthesized audio and its word alignment.
//
// Every synthesis request is reduced to a [Fingerprint]. The fingerprint keys
// exactly one [AudioEntry], whose WAV artifact lives in an [Artifacts]
// directory. Each audio entry owns at most one [AlignmentEntry]; deleting the
// audio deletes its alignment, never the reverse.
//
// [DualCache] guarantees that at most one producer runs per key at a time:
// concurrent callers for the same fingerprint share a single computation and
// all receive the same entry.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
)

var (
	// ErrNotFound is returned by a [Store] when no entry exists for a key.
	ErrNotFound = errors.New("cache: not found")

	// ErrConsistency is returned when an entry's parent or artifact is
	// missing. [DualCache] recovers from it by treating the entry as a miss.
	ErrConsistency = errors.New("cache: inconsistent entry")
)

// AudioEntry describes one cached synthesis result.
type AudioEntry struct {
	// ID identifies the entry and names its artifact.
	ID string `json:"id"`

	// Fingerprint is the unique content key.
	Fingerprint string `json:"fingerprint"`

	// Path is the artifact name inside the [Artifacts] directory.
	Path string `json:"path"`

	// Duration is the playback length in seconds.
	Duration float64 `json:"duration"`

	// SampleRate of the stored audio in Hz.
	SampleRate int `json:"sample_rate"`

	// Size is the artifact size in bytes.
	Size int64 `json:"size"`

	Language  string    `json:"language"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// AlignmentEntry is the cached alignment of one [AudioEntry].
type AlignmentEntry struct {
	AudioID   string              `json:"audio_id"`
	Words     []align.AlignedWord `json:"words"`
	Method    align.Method        `json:"method"`
	Stats     align.Stats         `json:"stats"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store persists entry metadata. Implementations must be safe for concurrent
// use and must cascade [Store.DeleteAudio] to the alignment.
type Store interface {
	// GetAudio returns the entry for fingerprint or [ErrNotFound].
	GetAudio(ctx context.Context, fingerprint string) (AudioEntry, error)

	// GetAudioByID returns the entry with id or [ErrNotFound].
	GetAudioByID(ctx context.Context, id string) (AudioEntry, error)

	// PutAudio inserts e. When an entry for e.Fingerprint already exists it
	// is returned unchanged instead, so the first writer always wins.
	PutAudio(ctx context.Context, e AudioEntry) (AudioEntry, error)

	// GetAlignment returns the alignment owned by audioID or [ErrNotFound].
	GetAlignment(ctx context.Context, audioID string) (AlignmentEntry, error)

	// PutAlignment inserts e, returning the existing alignment if one is
	// already stored. It returns [ErrConsistency] when the parent audio entry
	// does not exist.
	PutAlignment(ctx context.Context, e AlignmentEntry) (AlignmentEntry, error)

	// DeleteAudio removes the entry for fingerprint and its alignment.
	// Deleting a missing entry is not an error.
	DeleteAudio(ctx context.Context, fingerprint string) error

	// DeleteAlignment removes the alignment owned by audioID, if any.
	DeleteAlignment(ctx context.Context, audioID string) error

	// ListAudio returns every audio entry, oldest first.
	ListAudio(ctx context.Context) ([]AudioEntry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Locker elects a single writer per key across processes sharing a store.
// Lock blocks until the key is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
