package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rodolfogoulart/mms-tts-api/internal/speech"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8000"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultSQLitePath       = "cache/tts_cache.db"
	DefaultArtifactDir      = "cache/audio"
	DefaultLockTTL          = 2 * time.Minute
	DefaultEvictionInterval = time.Hour
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"coqui", "openai", "elevenlabs", "mock"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file next to the config, or in the working directory, is
// loaded first so ${VAR} references in the YAML can use it. Variables already
// set in the environment win.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if len(cfg.Models) == 0 {
		for _, m := range speech.DefaultModels() {
			cfg.Models = append(cfg.Models, ModelConfig{
				Key:                m.Key,
				DisplayName:        m.Name,
				ModelID:            m.ModelID,
				Language:           m.Language,
				LanguageName:       m.LanguageName,
				TranscribeLanguage: m.TranscribeLanguage,
			})
		}
	}
	if len(cfg.Presets) == 0 {
		for _, p := range speech.DefaultPresets() {
			cfg.Presets = append(cfg.Presets, PresetConfig(p))
		}
	}

	a := &cfg.Alignment
	def := speech.DefaultTuning()
	if a.Window == 0 {
		a.Window = def.Window
	}
	if a.AcceptThreshold == 0 {
		a.AcceptThreshold = def.AcceptThreshold
	}
	if a.QualityFloor == 0 {
		a.QualityFloor = def.QualityFloor
	}
	if a.FallbackConfidence == 0 {
		a.FallbackConfidence = def.FallbackConfidence
	}
	if a.TranscribeTimeout == 0 {
		a.TranscribeTimeout = def.TranscribeTimeout
	}
	if a.SynthesizeTimeout == 0 {
		a.SynthesizeTimeout = def.SynthesizeTimeout
	}
	if a.UsePrompt == nil {
		usePrompt := def.UsePrompt
		a.UsePrompt = &usePrompt
	}

	c := &cfg.Cache
	if c.Backend == "" {
		c.Backend = CacheSQLite
	}
	if c.Backend == CacheSQLite && c.DSN == "" {
		c.DSN = DefaultSQLitePath
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = DefaultArtifactDir
	}
	if c.LockTTL == 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.EvictionInterval == 0 {
		c.EvictionInterval = DefaultEvictionInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server.request_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = append(errs, validateEntry("tts", fmt.Sprintf("providers.tts_fallbacks[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.STTFallbacks {
		errs = append(errs, validateEntry("stt", fmt.Sprintf("providers.stt_fallbacks[%d]", i), e)...)
	}
	cb := cfg.Providers.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Models and presets
	if _, err := cfg.Catalogue(); err != nil {
		errs = append(errs, fmt.Errorf("models/presets: %w", err))
	}

	// Alignment
	if err := cfg.Alignment.Tuning().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("alignment: %w", err))
	}

	// Cache
	c := cfg.Cache
	if !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, sqlite, postgres", c.Backend))
	}
	if c.Backend == CachePostgres && c.DSN == "" {
		errs = append(errs, errors.New("cache.dsn is required when backend is postgres"))
	}
	if c.MaxBytes < 0 {
		errs = append(errs, errors.New("cache.max_bytes must not be negative"))
	}
	if c.MaxAge < 0 || c.EvictionInterval < 0 || c.LockTTL < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Backend == CacheMemory && c.RedisURL != "" {
		slog.Warn("cache.redis_url is set with the memory backend; other processes cannot see this cache")
	}

	return errors.Join(errs...)
}

func validateEntry(kind, path string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	var errs []error
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", path))
	}
	validateProviderName(kind, e.Name)
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
