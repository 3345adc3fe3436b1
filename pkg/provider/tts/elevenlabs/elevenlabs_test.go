package elevenlabs

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

// ---- request construction ----

func TestBuildRequestBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		speed     float64
		wantSpeed float64
	}{
		{name: "natural speed omitted", speed: 1, wantSpeed: 0},
		{name: "zero speed omitted", speed: 0, wantSpeed: 0},
		{name: "slower is reciprocal", speed: 1.25, wantSpeed: 0.8},
		{name: "clamped low", speed: 3, wantSpeed: minRate},
		{name: "clamped high", speed: 0.5, wantSpeed: maxRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := buildRequestBody("Olá", "m", "pt", tt.speed)
			if err != nil {
				t.Fatalf("buildRequestBody: %v", err)
			}
			var req synthesisRequest
			if err := json.Unmarshal(data, &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if req.Text != "Olá" || req.ModelID != "m" || req.LanguageCode != "pt" {
				t.Errorf("request = %+v", req)
			}
			if req.VoiceSettings == nil {
				t.Fatal("expected voice settings")
			}
			if math.Abs(req.VoiceSettings.Speed-tt.wantSpeed) > 1e-9 {
				t.Errorf("speed = %v, want %v", req.VoiceSettings.Speed, tt.wantSpeed)
			}
		})
	}
}

func TestBuildRequestBody_EmptyText(t *testing.T) {
	t.Parallel()
	if _, err := buildRequestBody(" ", "m", "", 1); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSampleRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{format: "pcm_16000", want: 16000},
		{format: "pcm_24000", want: 24000},
		{format: "mp3_44100_128", wantErr: true},
		{format: "pcm_x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := sampleRate(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("sampleRate(%q) err = %v, wantErr %v", tt.format, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("sampleRate(%q) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

// ---- provider ----

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.outputFormat != defaultOutputFmt || p.Name() != "elevenlabs" {
		t.Errorf("defaults not applied: %+v", p)
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 640)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_24000" {
			t.Errorf("output_format = %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q", got)
		}
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL+"/"), WithOutputFormat("pcm_24000"), WithVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "Καλημέρα", Language: "el"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 24000 || clip.Channels != 1 || len(clip.PCM) != len(pcm) {
		t.Errorf("clip = %s with %d bytes", clip, len(clip.PCM))
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Error("expected error without a voice")
	}

	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", Voice: "v"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}
