package mock

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

func TestSynthesize_DurationProportionalToText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		speed float64
		want  float64
	}{
		{name: "ten runes", text: "0123456789", speed: 1, want: 0.6},
		{name: "slow", text: "0123456789", speed: 1.5, want: 0.9},
		{name: "zero speed treated as one", text: "01234", speed: 0, want: 0.3},
		{name: "diacritics count as runes", text: "שָׁלוֹם", speed: 1, want: 0.06 * 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &Provider{}
			clip, err := p.Synthesize(context.Background(), tts.Request{Text: tt.text, Speed: tt.speed})
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if clip.SampleRate != DefaultSampleRate || clip.Channels != 1 {
				t.Errorf("format = %s", clip)
			}
			if got := clip.Seconds(); math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSynthesize_FixedClipAndError(t *testing.T) {
	t.Parallel()

	fixed := audio.Clip{PCM: []byte{1, 0, 2, 0}, SampleRate: 8000, Channels: 1}
	p := &Provider{Clip: fixed, ProviderName: "fixed"}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "anything"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 8000 || len(clip.PCM) != 4 {
		t.Errorf("clip = %s, want the fixed clip", clip)
	}
	if p.Name() != "fixed" || p.CallCount() != 1 {
		t.Errorf("Name=%q CallCount=%d", p.Name(), p.CallCount())
	}

	boom := errors.New("boom")
	p = &Provider{Err: boom}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSynthesize_DelayHonoursContext(t *testing.T) {
	t.Parallel()

	p := &Provider{Delay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Synthesize(ctx, tts.Request{Text: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
