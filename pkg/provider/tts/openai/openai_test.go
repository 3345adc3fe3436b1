package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel || p.voice != DefaultVoice || p.Name() != "openai" {
		t.Errorf("defaults not applied: model=%q voice=%q", p.model, p.voice)
	}
}

func TestAPIRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		speed, want float64
	}{
		{speed: 0, want: 1},
		{speed: 1, want: 1},
		{speed: 2, want: 0.5},
		{speed: 0.5, want: 2},
		{speed: 0.1, want: maxRate},
		{speed: 10, want: minRate},
	}
	for _, tt := range tests {
		if got := apiRate(tt.speed); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("apiRate(%v) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.Clip{PCM: make([]byte, 4800), SampleRate: 24000, Channels: 1})
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0), WithVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "olá", Speed: 2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 24000 || math.Abs(clip.Seconds()-0.1) > 1e-9 {
		t.Errorf("clip = %s, %.3fs", clip, clip.Seconds())
	}

	want := map[string]any{
		"input":           "olá",
		"model":           DefaultModel,
		"voice":           "nova",
		"response_format": "wav",
		"speed":           0.5,
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, body[k], v)
		}
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad voice"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
