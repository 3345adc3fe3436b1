package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(id, fp string, created time.Time) cache.AudioEntry {
	return cache.AudioEntry{
		ID:          id,
		Fingerprint: fp,
		Path:        id + ".wav",
		Duration:    1.25,
		SampleRate:  16000,
		Size:        4096,
		Language:    "hebrew",
		Model:       "facebook/mms-tts-heb",
		CreatedAt:   created,
	}
}

func TestStore_AudioRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 123, time.UTC)

	stored, err := s.PutAudio(ctx, entry("a1", "fp1", created))
	if err != nil {
		t.Fatalf("PutAudio: %v", err)
	}
	if stored.ID != "a1" || !stored.CreatedAt.Equal(created) {
		t.Errorf("stored = %+v", stored)
	}

	byFP, err := s.GetAudio(ctx, "fp1")
	if err != nil {
		t.Fatalf("GetAudio: %v", err)
	}
	byID, err := s.GetAudioByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAudioByID: %v", err)
	}
	if byFP != byID || byFP.Duration != 1.25 || byFP.Model != "facebook/mms-tts-heb" {
		t.Errorf("byFP = %+v, byID = %+v", byFP, byID)
	}

	if _, err := s.GetAudio(ctx, "missing"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("GetAudio(missing) err = %v, want ErrNotFound", err)
	}
}

func TestStore_PutAudioFirstWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.PutAudio(ctx, entry("first", "fp", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := s.PutAudio(ctx, entry("second", "fp", time.Now()))
	if err != nil {
		t.Fatalf("PutAudio: %v", err)
	}
	if got.ID != "first" {
		t.Errorf("ID = %q, want first", got.ID)
	}
}

func TestStore_AlignmentCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.PutAudio(ctx, entry("a1", "fp", time.Now())); err != nil {
		t.Fatal(err)
	}
	in := cache.AlignmentEntry{
		AudioID: "a1",
		Words: []align.AlignedWord{
			{Text: "שלום", CharStart: 0, CharEnd: 4, Start: 0, End: 0.6, Confidence: 1},
			{Text: "עולם", CharStart: 5, CharEnd: 9, Start: 0.6, End: 1.25, Confidence: 0.8},
		},
		Method:    align.MethodForcedAlignment,
		Stats:     align.Stats{TotalWords: 2, MatchedWords: 2, MatchRatio: 1, Method: align.MethodForcedAlignment},
		CreatedAt: time.Now(),
	}
	got, err := s.PutAlignment(ctx, in)
	if err != nil {
		t.Fatalf("PutAlignment: %v", err)
	}
	if len(got.Words) != 2 || got.Words[1].Text != "עולם" || got.Stats.TotalWords != 2 {
		t.Errorf("got = %+v", got)
	}

	again, err := s.PutAlignment(ctx, cache.AlignmentEntry{AudioID: "a1", Method: align.MethodProportional})
	if err != nil {
		t.Fatal(err)
	}
	if again.Method != align.MethodForcedAlignment {
		t.Errorf("second PutAlignment replaced the first: method = %q", again.Method)
	}

	if err := s.DeleteAudio(ctx, "fp"); err != nil {
		t.Fatalf("DeleteAudio: %v", err)
	}
	if _, err := s.GetAlignment(ctx, "a1"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("alignment survived parent delete: err = %v", err)
	}
}

func TestStore_AlignmentWithoutParent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.PutAlignment(context.Background(), cache.AlignmentEntry{AudioID: "ghost", Method: align.MethodProportional})
	if !errors.Is(err, cache.ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
}

func TestStore_ListAudioOldestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		offset := map[string]time.Duration{"a": 0, "b": time.Minute, "c": 2 * time.Minute}[id]
		if _, err := s.PutAudio(ctx, entry(id, "fp"+string(rune('0'+i)), base.Add(offset))); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListAudio(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var order string
	for _, e := range list {
		order += e.ID
	}
	if order != "abc" {
		t.Errorf("order = %q, want abc", order)
	}
}

func TestStore_WithDualCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	arts, err := cache.NewArtifacts(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d := cache.New(s, arts)

	audio, hit, err := d.GetOrCreateAudio(ctx, "fp", cache.AudioMeta{Language: "greek"}, func(context.Context) (cache.AudioResult, error) {
		return cache.AudioResult{WAV: []byte("wav"), Duration: 1, SampleRate: 16000}, nil
	})
	if err != nil || hit {
		t.Fatalf("GetOrCreateAudio = hit %v, err %v", hit, err)
	}
	if _, _, err := d.GetOrCreateAlignment(ctx, audio, func(context.Context, cache.AudioEntry) (cache.AlignmentResult, error) {
		return cache.AlignmentResult{Method: align.MethodProportional}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAlignment(ctx, audio.ID); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("alignment survived: %v", err)
	}
}
