package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/internal/config"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
	sttmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/mock"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
	ttsmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  request_timeout: 3m
  public_base_url: "https://tts.example.com"

providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
  stt:
    name: whisper
    base_url: http://localhost:8080
    timeout: 90s
  stt_fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1
  circuit_breaker:
    max_failures: 3
    reset_timeout: 20s

models:
  - key: hebrew
    display_name: MMS-TTS Hebrew
    model_id: facebook/mms-tts-heb
    language: heb
    language_name: Hebrew
    transcribe_language: he

presets:
  - name: natural
    description: Balanced natural voice
    speed: 1.0
  - name: slow
    speed: 1.5

alignment:
  window: 4
  accept_threshold: 0.6
  withhold_estimates: true
  use_prompt: false

cache:
  backend: sqlite
  dsn: /var/lib/tts/cache.db
  artifact_dir: /var/lib/tts/audio
  max_bytes: 1073741824
  max_age: 720h
`

const minimalYAML = `
providers:
  tts:
    name: coqui
  stt:
    name: whisper
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── LoadFromReader ───────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.RequestTimeout != 3*time.Minute {
		t.Errorf("request_timeout: got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Providers.STT.Timeout != 90*time.Second {
		t.Errorf("stt timeout: got %v", cfg.Providers.STT.Timeout)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Model != "whisper-1" {
		t.Errorf("stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].TranscribeLanguage != "he" {
		t.Errorf("models: got %+v", cfg.Models)
	}
	if len(cfg.Presets) != 2 || cfg.Presets[1].Speed != 1.5 {
		t.Errorf("presets: got %+v", cfg.Presets)
	}
	if cfg.Cache.MaxAge != 720*time.Hour {
		t.Errorf("cache.max_age: got %v", cfg.Cache.MaxAge)
	}

	tuning := cfg.Alignment.Tuning()
	if tuning.Window != 4 || tuning.AcceptThreshold != 0.6 {
		t.Errorf("tuning: got %+v", tuning)
	}
	if !tuning.WithholdEstimates || tuning.UsePrompt {
		t.Errorf("tuning flags: got withhold=%v prompt=%v", tuning.WithholdEstimates, tuning.UsePrompt)
	}
	// Unset fields keep their defaults.
	if tuning.QualityFloor != 0.5 || tuning.FallbackConfidence != 0.3 {
		t.Errorf("tuning defaults: got floor=%v confidence=%v", tuning.QualityFloor, tuning.FallbackConfidence)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Cache.Backend != config.CacheSQLite || cfg.Cache.DSN != config.DefaultSQLitePath {
		t.Errorf("cache: got backend=%q dsn=%q", cfg.Cache.Backend, cfg.Cache.DSN)
	}
	if cfg.Cache.ArtifactDir != config.DefaultArtifactDir {
		t.Errorf("artifact_dir: got %q", cfg.Cache.ArtifactDir)
	}
	if len(cfg.Models) != 3 {
		t.Errorf("default models: got %d, want 3", len(cfg.Models))
	}
	if len(cfg.Presets) != 5 {
		t.Errorf("default presets: got %d, want 5", len(cfg.Presets))
	}
	if !cfg.Alignment.Tuning().UsePrompt {
		t.Error("use_prompt should default to true")
	}

	cat, err := cfg.Catalogue()
	if err != nil {
		t.Fatalf("Catalogue: %v", err)
	}
	m, err := cat.Resolve("ell", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.ModelID != "facebook/mms-tts-ell" {
		t.Errorf("resolved model: got %q", m.ModelID)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("MMS_TEST_OPENAI_KEY", "sk-from-env")
	cfg := mustLoad(t, `
providers:
  tts:
    name: openai
    api_key: ${MMS_TEST_OPENAI_KEY}
  stt:
    name: whisper
`)
	if cfg.Providers.TTS.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q, want %q", cfg.Providers.TTS.APIKey, "sk-from-env")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nvoices: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_EmptyRequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	for _, want := range []string{"providers.tts.name", "providers.stt.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: minimalYAML + "server:\n  log_level: verbose\n",
			want: "server.log_level",
		},
		{
			name: "negative request timeout",
			yaml: minimalYAML + "server:\n  request_timeout: -1s\n",
			want: "request_timeout",
		},
		{
			name: "tls without key",
			yaml: minimalYAML + "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "server.tls",
		},
		{
			name: "fallback without name",
			yaml: minimalYAML + "  tts_fallbacks:\n    - api_key: x\n",
			want: "providers.tts_fallbacks[0].name",
		},
		{
			name: "preset speed out of range",
			yaml: minimalYAML + "presets:\n  - name: warp\n    speed: 9\n",
			want: "warp",
		},
		{
			name: "model without model_id",
			yaml: minimalYAML + "models:\n  - key: hebrew\n    language: heb\n",
			want: "model_id",
		},
		{
			name: "duplicate language",
			yaml: minimalYAML + "models:\n  - key: a\n    model_id: x\n    language: heb\n  - key: b\n    model_id: y\n    language: heb\n",
			want: "heb",
		},
		{
			name: "accept threshold above one",
			yaml: minimalYAML + "alignment:\n  accept_threshold: 1.5\n",
			want: "alignment",
		},
		{
			name: "unknown cache backend",
			yaml: minimalYAML + "cache:\n  backend: etcd\n",
			want: "cache.backend",
		},
		{
			name: "postgres without dsn",
			yaml: minimalYAML + "cache:\n  backend: postgres\n",
			want: "cache.dsn",
		},
		{
			name: "negative max bytes",
			yaml: minimalYAML + "cache:\n  max_bytes: -1\n",
			want: "cache.max_bytes",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.LogLevel = "loud"
	cfg.Cache.Backend = "tape"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "providers.tts.name", "providers.stt.name", "cache.backend"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %s", want, msg)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"tts", "stt"} {
		names, ok := config.ValidProviderNames[kind]
		if !ok || len(names) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: want ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterTTS("mock", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{ProviderName: "ears"}, nil
	})

	p, err := reg.CreateTTS(config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if p == nil || gotEntry.Model != "m1" {
		t.Errorf("factory received %+v", gotEntry)
	}

	s, err := reg.CreateSTT(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if s.Name() != "ears" {
		t.Errorf("stt name: got %q", s.Name())
	}

	names := reg.Names()
	if len(names["tts"]) != 1 || names["tts"][0] != "mock" {
		t.Errorf("Names()[tts]: got %v", names["tts"])
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	sentinel := errors.New("bad credentials")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, sentinel
	})

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, sentinel) {
		t.Errorf("want factory error, got %v", err)
	}
}
