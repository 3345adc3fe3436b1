// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the TTS alignment service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CacheBackend selects where cache metadata is stored.
type CacheBackend string

const (
	// CacheMemory keeps metadata in process memory; it is lost on restart.
	CacheMemory CacheBackend = "memory"

	// CacheSQLite stores metadata in a local SQLite file.
	CacheSQLite CacheBackend = "sqlite"

	// CachePostgres stores metadata in PostgreSQL, shared across replicas.
	CachePostgres CacheBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b CacheBackend) IsValid() bool {
	switch b {
	case CacheMemory, CacheSQLite, CachePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Models    []ModelConfig   `yaml:"models"`
	Presets   []PresetConfig  `yaml:"presets"`
	Alignment AlignmentConfig `yaml:"alignment"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSAllowedOrigins lists the origins browsers may call from. Empty
	// allows all origins.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// RequestTimeout bounds every API request. Zero disables the limit.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PublicBaseURL prefixes audio URLs in responses. Empty yields relative
	// URLs.
	PublicBaseURL string `yaml:"public_base_url"`

	// AdminAPIKey protects cache administration endpoints when set.
	AdminAPIKey string `yaml:"admin_api_key"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the synthesis and transcription backends. Each
// entry names a provider registered in the [Registry]; fallbacks are tried in
// order when the primary fails or its circuit is open.
type ProvidersConfig struct {
	TTS          ProviderEntry   `yaml:"tts"`
	STT          ProviderEntry   `yaml:"stt"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "coqui", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Timeout bounds a single provider call. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig tunes the breaker wrapped around every provider.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ModelConfig declares one synthesis model and the language it speaks.
type ModelConfig struct {
	// Key is the name callers pass as "model" (e.g., "hebrew").
	Key string `yaml:"key"`

	// DisplayName is reported as "model_used" (e.g., "MMS-TTS Hebrew").
	DisplayName string `yaml:"display_name"`

	// ModelID is handed to the TTS provider (e.g., "facebook/mms-tts-heb").
	ModelID string `yaml:"model_id"`

	// Language is the code callers send (e.g., "heb").
	Language string `yaml:"language"`

	// LanguageName is the display name of Language.
	LanguageName string `yaml:"language_name"`

	// TranscribeLanguage is the hint given to the transcriber (e.g., "he").
	TranscribeLanguage string `yaml:"transcribe_language"`
}

// PresetConfig maps a named voice preset to a speed. Hot-reloadable.
type PresetConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Speed       float64 `yaml:"speed"`
}

// AlignmentConfig tunes the matcher, the assigner and the provider timeouts
// used on a cache miss. Hot-reloadable.
type AlignmentConfig struct {
	// Window is the matcher lookahead in observed tokens. Default: 6.
	Window int `yaml:"window"`

	// AcceptThreshold is the minimum similarity for a match. Default: 0.5.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// QualityFloor is the match ratio below which every interval is
	// estimated. Default: 0.5.
	QualityFloor float64 `yaml:"quality_floor"`

	// FallbackConfidence is reported for estimated intervals. Default: 0.3.
	FallbackConfidence float64 `yaml:"fallback_confidence"`

	// TranscribeTimeout bounds the transcription call. Default: 60s.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// SynthesizeTimeout bounds the synthesis call. Default: 120s.
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout"`

	// WithholdEstimates reports alignments below the quality floor as
	// unavailable instead of returning proportional estimates.
	WithholdEstimates bool `yaml:"withhold_estimates"`

	// UsePrompt passes the input text to the transcriber as a decoding
	// prompt. Default: true.
	UsePrompt *bool `yaml:"use_prompt"`
}

// CacheConfig selects and tunes the dual cache.
type CacheConfig struct {
	// Backend selects the metadata store. Default: sqlite.
	Backend CacheBackend `yaml:"backend"`

	// DSN is the SQLite file path or the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// ArtifactDir holds the WAV files. Default: "cache/audio".
	ArtifactDir string `yaml:"artifact_dir"`

	// RedisURL enables cross-process locking when set
	// (e.g., "redis://localhost:6379/0").
	RedisURL string `yaml:"redis_url"`

	// LockTTL bounds how long a crashed holder blocks a fingerprint.
	// Default: 2m.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// EvictionInterval is the period of the background sweep. Default: 1h.
	EvictionInterval time.Duration `yaml:"eviction_interval"`

	// MaxBytes caps the total artifact size. Zero means unlimited.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxAge expires entries older than this. Zero means never.
	MaxAge time.Duration `yaml:"max_age"`
}
