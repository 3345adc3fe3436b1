package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
)

var errProduce = errors.New("produce failed")

func newTestCache(t *testing.T, opts ...Option) (*DualCache, *MemoryStore, *Artifacts) {
	t.Helper()
	store := NewMemoryStore()
	arts, err := NewArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifacts: %v", err)
	}
	return New(store, arts, opts...), store, arts
}

func wavProducer(calls *atomic.Int32) AudioProducer {
	return func(context.Context) (AudioResult, error) {
		calls.Add(1)
		return AudioResult{WAV: []byte("RIFF...."), Duration: 1.5, SampleRate: 16000}, nil
	}
}

func alignmentProducer(calls *atomic.Int32) AlignmentProducer {
	return func(_ context.Context, audio AudioEntry) (AlignmentResult, error) {
		calls.Add(1)
		return AlignmentResult{
			Words:  []align.AlignedWord{{Text: "hi", CharEnd: 2, Start: 0, End: audio.Duration, Confidence: 1}},
			Method: align.MethodForcedAlignment,
			Stats:  align.Stats{TotalWords: 1, MatchedWords: 1, MatchRatio: 1, Method: align.MethodForcedAlignment},
		}, nil
	}
}

func TestGetOrCreateAudio_MissThenHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _, arts := newTestCache(t)
	var calls atomic.Int32

	e, hit, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{Language: "greek", Model: "m"}, wavProducer(&calls))
	if err != nil {
		t.Fatalf("GetOrCreateAudio: %v", err)
	}
	if hit {
		t.Error("first call reported hit")
	}
	if e.Fingerprint != "fp" || e.Language != "greek" || e.Duration != 1.5 || e.Size != 8 {
		t.Errorf("entry = %+v", e)
	}
	if !arts.Exists(e.Path) {
		t.Error("artifact not written")
	}

	again, hit, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls))
	if err != nil {
		t.Fatalf("GetOrCreateAudio: %v", err)
	}
	if !hit || again.ID != e.ID {
		t.Errorf("second call hit=%v id=%q, want hit with id %q", hit, again.ID, e.ID)
	}
	if calls.Load() != 1 {
		t.Errorf("producer calls = %d, want 1", calls.Load())
	}
}

func TestGetOrCreateAudio_ConcurrentCallersShareOneProduction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _, _ := newTestCache(t)

	var calls atomic.Int32
	gate := make(chan struct{})
	produce := func(context.Context) (AudioResult, error) {
		calls.Add(1)
		<-gate
		return AudioResult{WAV: []byte("data"), Duration: 1, SampleRate: 16000}, nil
	}

	const n = 32
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		ids    = make([]string, n)
		misses atomic.Int32
		errs   = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			e, hit, err := d.GetOrCreateAudio(ctx, "same", AudioMeta{}, produce)
			ids[i], errs[i] = e.ID, err
			if !hit {
				misses.Add(1)
			}
		}()
	}
	close(start)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("producer calls = %d, want 1", calls.Load())
	}
	if misses.Load() != 1 {
		t.Errorf("misses = %d, want exactly 1", misses.Load())
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("caller %d got id %q, want %q", i, id, ids[0])
		}
	}
}

func TestGetOrCreateAudio_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, store, _ := newTestCache(t)

	_, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, func(context.Context) (AudioResult, error) {
		return AudioResult{}, errProduce
	})
	if !errors.Is(err, errProduce) {
		t.Fatalf("err = %v, want errProduce", err)
	}
	if _, err := store.GetAudio(ctx, "fp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed production left an entry: %v", err)
	}

	var calls atomic.Int32
	if _, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("retry producer calls = %d, want 1", calls.Load())
	}
}

func TestGetOrCreateAudio_CallerCancelDoesNotAbortProduction(t *testing.T) {
	t.Parallel()
	d, store, _ := newTestCache(t)

	gate := make(chan struct{})
	produce := func(ctx context.Context) (AudioResult, error) {
		<-gate
		if ctx.Err() != nil {
			return AudioResult{}, ctx.Err()
		}
		return AudioResult{WAV: []byte("data"), Duration: 1}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, produce)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.GetAudio(context.Background(), "fp"); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("detached production never stored its entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetOrCreateAudio_MissingArtifactIsAMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _, arts := newTestCache(t)
	var calls atomic.Int32

	first, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if err := arts.Remove(first.Path); err != nil {
		t.Fatal(err)
	}

	second, hit, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if hit || second.ID == first.ID {
		t.Errorf("hit=%v id=%q, want fresh entry", hit, second.ID)
	}
	if calls.Load() != 2 {
		t.Errorf("producer calls = %d, want 2", calls.Load())
	}
}

func TestGetOrCreateAlignment_MissThenHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _, _ := newTestCache(t)
	var audioCalls, alignCalls atomic.Int32

	audio, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&audioCalls))
	if err != nil {
		t.Fatal(err)
	}
	a, hit, err := d.GetOrCreateAlignment(ctx, audio, alignmentProducer(&alignCalls))
	if err != nil {
		t.Fatalf("GetOrCreateAlignment: %v", err)
	}
	if hit || a.AudioID != audio.ID || len(a.Words) != 1 {
		t.Errorf("hit=%v entry=%+v", hit, a)
	}

	b, hit, err := d.GetOrCreateAlignment(ctx, audio, alignmentProducer(&alignCalls))
	if err != nil {
		t.Fatal(err)
	}
	if !hit || b.Method != align.MethodForcedAlignment {
		t.Errorf("second lookup hit=%v method=%q", hit, b.Method)
	}
	if alignCalls.Load() != 1 {
		t.Errorf("alignment producer calls = %d, want 1", alignCalls.Load())
	}
}

func TestGetOrCreateAlignment_ConcurrentCallersShareOneProduction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _, _ := newTestCache(t)
	var audioCalls, alignCalls atomic.Int32

	audio, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&audioCalls))
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	inner := alignmentProducer(&alignCalls)
	produce := func(ctx context.Context, e AudioEntry) (AlignmentResult, error) {
		<-gate
		return inner(ctx, e)
	}

	const n = 16
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := d.GetOrCreateAlignment(ctx, audio, produce); err != nil {
				t.Errorf("GetOrCreateAlignment: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if alignCalls.Load() != 1 {
		t.Errorf("alignment producer calls = %d, want 1", alignCalls.Load())
	}
}

func TestGetOrCreateAlignment_OrphanIsDroppedAndNotRecached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, store, _ := newTestCache(t)
	store.insertOrphanAlignment(AlignmentEntry{AudioID: "ghost", Method: align.MethodProportional})

	var calls atomic.Int32
	got, hit, err := d.GetOrCreateAlignment(ctx, AudioEntry{ID: "ghost", Duration: 2}, alignmentProducer(&calls))
	if err != nil {
		t.Fatalf("GetOrCreateAlignment: %v", err)
	}
	if hit {
		t.Error("orphan served as a hit")
	}
	if got.Method != align.MethodForcedAlignment {
		t.Errorf("method = %q, want freshly computed result", got.Method)
	}
	if calls.Load() != 1 {
		t.Errorf("producer calls = %d, want 1", calls.Load())
	}
	if _, err := store.GetAlignment(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("alignment without parent stored: err = %v", err)
	}
}

func TestDelete_CascadesToAlignmentAndArtifact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, store, arts := newTestCache(t)
	var calls atomic.Int32

	audio, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.GetOrCreateAlignment(ctx, audio, alignmentProducer(&calls)); err != nil {
		t.Fatal(err)
	}

	if err := d.Delete(ctx, "fp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetAlignment(ctx, audio.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("alignment survived: %v", err)
	}
	if arts.Exists(audio.Path) {
		t.Error("artifact survived")
	}
	if err := d.Delete(ctx, "fp"); err != nil {
		t.Errorf("deleting missing entry: %v", err)
	}
}

func TestReadAudio_MissingArtifact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, store, arts := newTestCache(t)
	var calls atomic.Int32

	audio, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls))
	if err != nil {
		t.Fatal(err)
	}
	data, err := d.ReadAudio(ctx, audio)
	if err != nil || string(data) != "RIFF...." {
		t.Fatalf("ReadAudio = %q, %v", data, err)
	}

	_ = arts.Remove(audio.Path)
	if _, err := d.ReadAudio(ctx, audio); !errors.Is(err, ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
	if _, err := store.GetAudio(ctx, "fp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry with missing artifact not dropped: %v", err)
	}
}

type countingLocker struct {
	locks, unlocks atomic.Int32
	mu             sync.Mutex
}

func (l *countingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	l.locks.Add(1)
	return func() {
		l.unlocks.Add(1)
		l.mu.Unlock()
	}, nil
}

func TestGetOrCreateAudio_UsesLocker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locker := &countingLocker{}
	d, _, _ := newTestCache(t, WithLocker(locker))
	var calls atomic.Int32

	if _, _, err := d.GetOrCreateAudio(ctx, "fp", AudioMeta{}, wavProducer(&calls)); err != nil {
		t.Fatal(err)
	}
	if locker.locks.Load() != 1 || locker.unlocks.Load() != 1 {
		t.Errorf("locks=%d unlocks=%d, want 1/1", locker.locks.Load(), locker.unlocks.Load())
	}
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock unavailable")
}

func TestGetOrCreateAudio_LockErrorSkipsProduction(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestCache(t, WithLocker(failingLocker{}))
	var calls atomic.Int32

	if _, _, err := d.GetOrCreateAudio(context.Background(), "fp", AudioMeta{}, wavProducer(&calls)); err == nil {
		t.Fatal("expected lock error")
	}
	if calls.Load() != 0 {
		t.Errorf("producer ran without the lock")
	}
}
