package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
	"github.com/rodolfogoulart/mms-tts-api/internal/observe"
)

// AudioMeta is the descriptive part of an audio entry supplied by the caller.
type AudioMeta struct {
	Language string
	Model    string
}

// AudioResult is what an [AudioProducer] returns on a cache miss.
type AudioResult struct {
	// WAV is the encoded artifact.
	WAV        []byte
	Duration   float64
	SampleRate int
}

// AudioProducer synthesizes the audio for a missing fingerprint.
type AudioProducer func(ctx context.Context) (AudioResult, error)

// AlignmentResult is what an [AlignmentProducer] returns on a cache miss.
type AlignmentResult struct {
	Words  []align.AlignedWord
	Method align.Method
	Stats  align.Stats
}

// AlignmentProducer computes the alignment of a cached audio entry.
type AlignmentProducer func(ctx context.Context, audio AudioEntry) (AlignmentResult, error)

// Option configures a [DualCache].
type Option func(*DualCache)

// WithLocker adds a cross-process lock around every producer invocation.
// Without one, single-flight is guaranteed within the process only.
func WithLocker(l Locker) Option {
	return func(d *DualCache) { d.locker = l }
}

// WithMetrics records lookups and productions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *DualCache) { d.metrics = m }
}

// WithLogger sets the logger used for consistency repairs.
func WithLogger(l *slog.Logger) Option {
	return func(d *DualCache) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock overrides the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(d *DualCache) {
		if now != nil {
			d.now = now
		}
	}
}

// DualCache is the audio plus alignment cache. It is safe for concurrent use.
type DualCache struct {
	store     Store
	artifacts *Artifacts
	locker    Locker
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// New returns a [DualCache] over store and artifacts.
func New(store Store, artifacts *Artifacts, opts ...Option) *DualCache {
	d := &DualCache{
		store:     store,
		artifacts: artifacts,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type audioOutcome struct {
	entry AudioEntry
	hit   bool
}

type alignmentOutcome struct {
	entry AlignmentEntry
	hit   bool
}

// GetOrCreateAudio returns the audio entry for fingerprint, invoking produce
// on a miss. Concurrent callers with the same fingerprint share one producer
// run; hit is true for every caller that did not run it. Producer errors are
// returned to all waiters and are not cached.
//
// The shared computation is detached from ctx cancellation, so a caller that
// gives up does not abort the work for the others.
func (d *DualCache) GetOrCreateAudio(ctx context.Context, fingerprint string, meta AudioMeta, produce AudioProducer) (AudioEntry, bool, error) {
	if e, ok, err := d.lookupAudio(ctx, fingerprint); err != nil {
		return AudioEntry{}, false, err
	} else if ok {
		d.recordLookup(ctx, observe.CacheLevelAudio, true)
		return e, true, nil
	}
	d.recordLookup(ctx, observe.CacheLevelAudio, false)

	ran := false
	ch := d.group.DoChan("audio:"+fingerprint, func() (any, error) {
		ran = true
		return d.produceAudio(context.WithoutCancel(ctx), fingerprint, meta, produce)
	})

	select {
	case <-ctx.Done():
		return AudioEntry{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AudioEntry{}, false, res.Err
		}
		out := res.Val.(audioOutcome)
		return out.entry, out.hit || !ran, nil
	}
}

func (d *DualCache) produceAudio(ctx context.Context, fingerprint string, meta AudioMeta, produce AudioProducer) (audioOutcome, error) {
	if d.locker != nil {
		unlock, err := d.locker.Lock(ctx, "audio:"+fingerprint)
		if err != nil {
			return audioOutcome{}, fmt.Errorf("cache: lock audio %s: %w", fingerprint, err)
		}
		defer unlock()
	}
	// A previous flight or another process may have stored the entry after
	// the caller's lookup.
	if e, ok, err := d.lookupAudio(ctx, fingerprint); err != nil {
		return audioOutcome{}, err
	} else if ok {
		return audioOutcome{entry: e, hit: true}, nil
	}

	res, err := produce(ctx)
	if err != nil {
		return audioOutcome{}, err
	}
	d.recordProduction(ctx, observe.CacheLevelAudio)

	id := uuid.NewString()
	name := id + ".wav"
	size, err := d.artifacts.Write(name, res.WAV)
	if err != nil {
		return audioOutcome{}, err
	}
	entry := AudioEntry{
		ID:          id,
		Fingerprint: fingerprint,
		Path:        name,
		Duration:    res.Duration,
		SampleRate:  res.SampleRate,
		Size:        size,
		Language:    meta.Language,
		Model:       meta.Model,
		CreatedAt:   d.now().UTC(),
	}
	stored, err := d.store.PutAudio(ctx, entry)
	if err != nil {
		_ = d.artifacts.Remove(name)
		return audioOutcome{}, fmt.Errorf("cache: store audio %s: %w", fingerprint, err)
	}
	if stored.ID != id {
		// Lost an insert race against another writer; keep theirs.
		_ = d.artifacts.Remove(name)
		return audioOutcome{entry: stored, hit: true}, nil
	}
	return audioOutcome{entry: stored}, nil
}

// lookupAudio returns the entry for fingerprint if it and its artifact exist.
// An entry whose artifact is gone is removed and reported as a miss.
func (d *DualCache) lookupAudio(ctx context.Context, fingerprint string) (AudioEntry, bool, error) {
	e, err := d.store.GetAudio(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return AudioEntry{}, false, nil
	}
	if err != nil {
		return AudioEntry{}, false, fmt.Errorf("cache: get audio %s: %w", fingerprint, err)
	}
	if !d.artifacts.Exists(e.Path) {
		d.log.Warn("cache: audio artifact missing, dropping entry",
			"fingerprint", fingerprint, "id", e.ID, "path", e.Path)
		if err := d.store.DeleteAudio(ctx, fingerprint); err != nil {
			return AudioEntry{}, false, fmt.Errorf("cache: drop audio %s: %w", fingerprint, err)
		}
		return AudioEntry{}, false, nil
	}
	return e, true, nil
}

// GetOrCreateAlignment returns the alignment owned by audio, invoking
// produce on a miss. It shares the single-flight rules of
// [DualCache.GetOrCreateAudio].
//
// When the parent entry disappears while the alignment is computed, the
// result is still returned but is not stored.
func (d *DualCache) GetOrCreateAlignment(ctx context.Context, audio AudioEntry, produce AlignmentProducer) (AlignmentEntry, bool, error) {
	if e, ok, err := d.lookupAlignment(ctx, audio.ID); err != nil {
		return AlignmentEntry{}, false, err
	} else if ok {
		d.recordLookup(ctx, observe.CacheLevelAlignment, true)
		return e, true, nil
	}
	d.recordLookup(ctx, observe.CacheLevelAlignment, false)

	ran := false
	ch := d.group.DoChan("alignment:"+audio.ID, func() (any, error) {
		ran = true
		return d.produceAlignment(context.WithoutCancel(ctx), audio, produce)
	})

	select {
	case <-ctx.Done():
		return AlignmentEntry{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AlignmentEntry{}, false, res.Err
		}
		out := res.Val.(alignmentOutcome)
		return out.entry, out.hit || !ran, nil
	}
}

func (d *DualCache) produceAlignment(ctx context.Context, audio AudioEntry, produce AlignmentProducer) (alignmentOutcome, error) {
	if d.locker != nil {
		unlock, err := d.locker.Lock(ctx, "alignment:"+audio.ID)
		if err != nil {
			return alignmentOutcome{}, fmt.Errorf("cache: lock alignment %s: %w", audio.ID, err)
		}
		defer unlock()
	}
	if e, ok, err := d.lookupAlignment(ctx, audio.ID); err != nil {
		return alignmentOutcome{}, err
	} else if ok {
		return alignmentOutcome{entry: e, hit: true}, nil
	}

	res, err := produce(ctx, audio)
	if err != nil {
		return alignmentOutcome{}, err
	}
	d.recordProduction(ctx, observe.CacheLevelAlignment)

	entry := AlignmentEntry{
		AudioID:   audio.ID,
		Words:     res.Words,
		Method:    res.Method,
		Stats:     res.Stats,
		CreatedAt: d.now().UTC(),
	}
	stored, err := d.store.PutAlignment(ctx, entry)
	if errors.Is(err, ErrConsistency) {
		d.log.Warn("cache: parent audio gone, alignment not stored", "audio_id", audio.ID)
		return alignmentOutcome{entry: entry}, nil
	}
	if err != nil {
		return alignmentOutcome{}, fmt.Errorf("cache: store alignment %s: %w", audio.ID, err)
	}
	return alignmentOutcome{entry: stored}, nil
}

// lookupAlignment returns the alignment for audioID if it and its parent
// exist. An orphaned alignment is removed and reported as a miss.
func (d *DualCache) lookupAlignment(ctx context.Context, audioID string) (AlignmentEntry, bool, error) {
	e, err := d.store.GetAlignment(ctx, audioID)
	if errors.Is(err, ErrNotFound) {
		return AlignmentEntry{}, false, nil
	}
	if err != nil {
		return AlignmentEntry{}, false, fmt.Errorf("cache: get alignment %s: %w", audioID, err)
	}
	if _, err := d.store.GetAudioByID(ctx, audioID); errors.Is(err, ErrNotFound) {
		d.log.Warn("cache: orphaned alignment, dropping entry", "audio_id", audioID)
		if err := d.store.DeleteAlignment(ctx, audioID); err != nil {
			return AlignmentEntry{}, false, fmt.Errorf("cache: drop alignment %s: %w", audioID, err)
		}
		return AlignmentEntry{}, false, nil
	} else if err != nil {
		return AlignmentEntry{}, false, fmt.Errorf("cache: get audio %s: %w", audioID, err)
	}
	return e, true, nil
}

// AudioByID returns the audio entry with id, or [ErrNotFound].
func (d *DualCache) AudioByID(ctx context.Context, id string) (AudioEntry, error) {
	e, err := d.store.GetAudioByID(ctx, id)
	if err != nil {
		return AudioEntry{}, err
	}
	return e, nil
}

// ReadAudio returns the WAV artifact of e. A missing artifact drops the entry
// and yields an error wrapping [ErrConsistency].
func (d *DualCache) ReadAudio(ctx context.Context, e AudioEntry) ([]byte, error) {
	data, err := d.artifacts.Read(e.Path)
	if errors.Is(err, ErrNotFound) {
		d.log.Warn("cache: audio artifact missing on read, dropping entry",
			"fingerprint", e.Fingerprint, "id", e.ID)
		if derr := d.store.DeleteAudio(ctx, e.Fingerprint); derr != nil {
			return nil, errors.Join(fmt.Errorf("cache: artifact %s: %w", e.Path, ErrConsistency), derr)
		}
		return nil, fmt.Errorf("cache: artifact %s: %w", e.Path, ErrConsistency)
	}
	return data, err
}

// Delete removes the audio entry for fingerprint together with its alignment
// and artifact. Deleting a missing entry is not an error.
func (d *DualCache) Delete(ctx context.Context, fingerprint string) error {
	e, err := d.store.GetAudio(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: get audio %s: %w", fingerprint, err)
	}
	return d.deleteEntry(ctx, e)
}

func (d *DualCache) deleteEntry(ctx context.Context, e AudioEntry) error {
	if err := d.store.DeleteAudio(ctx, e.Fingerprint); err != nil {
		return fmt.Errorf("cache: delete audio %s: %w", e.Fingerprint, err)
	}
	return d.artifacts.Remove(e.Path)
}

// Entries returns every audio entry, oldest first.
func (d *DualCache) Entries(ctx context.Context) ([]AudioEntry, error) {
	return d.store.ListAudio(ctx)
}

// Ping checks the metadata store.
func (d *DualCache) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

func (d *DualCache) recordLookup(ctx context.Context, level string, hit bool) {
	if d.metrics != nil {
		d.metrics.RecordCacheLookup(ctx, level, hit)
	}
}

func (d *DualCache) recordProduction(ctx context.Context, level string) {
	if d.metrics != nil {
		d.metrics.RecordCacheProduction(ctx, level)
	}
}
