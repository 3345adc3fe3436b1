// Command mms-tts-api serves text-to-speech synthesis with word-level timings
// recovered by forced alignment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rodolfogoulart/mms-tts-api/internal/api"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache/postgres"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache/redislock"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache/sqlite"
	"github.com/rodolfogoulart/mms-tts-api/internal/config"
	"github.com/rodolfogoulart/mms-tts-api/internal/health"
	"github.com/rodolfogoulart/mms-tts-api/internal/observe"
	"github.com/rodolfogoulart/mms-tts-api/internal/resilience"
	"github.com/rodolfogoulart/mms-tts-api/internal/speech"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/deepgram"
	sttmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/mock"
	oaistt "github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/openai"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt/whisper"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/coqui"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/mock"
	oaitts "github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mms-tts-api: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mms-tts-api: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("mms-tts-api starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	synth, trans, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to open cache store", "backend", cfg.Cache.Backend, "err", err)
		return 1
	}
	defer closeStore()

	artifacts, err := cache.NewArtifacts(cfg.Cache.ArtifactDir)
	if err != nil {
		slog.Error("failed to open artifact directory", "dir", cfg.Cache.ArtifactDir, "err", err)
		return 1
	}

	cacheOpts := []cache.Option{cache.WithMetrics(metrics)}
	if cfg.Cache.RedisURL != "" {
		locker, closeRedis, err := newRedisLocker(cfg.Cache)
		if err != nil {
			slog.Error("failed to configure redis locking", "err", err)
			return 1
		}
		defer closeRedis()
		cacheOpts = append(cacheOpts, cache.WithLocker(locker))
	}
	dual := cache.New(store, artifacts, cacheOpts...)

	evictor := cache.NewEvictor(dual,
		cache.WithInterval(cfg.Cache.EvictionInterval),
		cache.WithMaxBytes(cfg.Cache.MaxBytes),
		cache.WithMaxAge(cfg.Cache.MaxAge),
	)

	// ── Speech service ────────────────────────────────────────────────────────
	catalogue, err := cfg.Catalogue()
	if err != nil {
		slog.Error("invalid model catalogue", "err", err)
		return 1
	}
	svc, err := speech.New(synth, trans, dual,
		speech.WithCatalogue(catalogue),
		speech.WithTuning(cfg.Alignment.Tuning()),
		speech.WithEvictor(evictor),
		speech.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise speech service", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, new *config.Config, d config.ConfigDiff) {
		applyReload(new, d, &level, svc)
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				slog.Info("SIGHUP received, reloading configuration")
				watcher.Reload()
			}
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "store", Check: dual.Ping},
		health.Breakers("tts", synth.States),
		health.Breakers("stt", trans.States),
	)
	router := api.NewRouter(
		api.NewHandler(svc, api.WithPublicBaseURL(cfg.Server.PublicBaseURL)),
		api.RouterConfig{
			CorsAllowedOrigins: cfg.Server.CORSAllowedOrigins,
			AdminAPIKey:        cfg.Server.AdminAPIKey,
			RequestTimeout:     cfg.Server.RequestTimeout,
			Health:             checks,
			Metrics:            metrics,
			MetricsHandler:     promhttp.Handler(),
		},
	)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, synth.Name(), trans.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return evictor.Run(gctx) })
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Hot reload ────────────────────────────────────────────────────────────────

func applyReload(new *config.Config, d config.ConfigDiff, level *slog.LevelVar, svc *speech.Service) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CatalogueChanged {
		if c, err := new.Catalogue(); err != nil {
			slog.Warn("keeping previous catalogue", "err", err)
		} else {
			svc.SetCatalogue(c)
			slog.Info("model catalogue reloaded", "models", len(new.Models), "presets", len(new.Presets))
		}
	}
	if d.AlignmentChanged {
		if err := svc.SetTuning(new.Alignment.Tuning()); err != nil {
			slog.Warn("keeping previous alignment tuning", "err", err)
		} else {
			slog.Info("alignment tuning reloaded")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("some configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithDefaultVoice(voice))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaitts.WithTimeout(entry.Timeout))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(entry.Timeout))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(entry.Timeout))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// The mock transcriber hears exactly the prompt, which makes a
	// provider-free deployment align perfectly.
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{EchoPrompt: true}, nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the configured primary and fallback providers
// and wraps each kind in a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*resilience.SynthesizerFallback, *resilience.TranscriberFallback, error) {
	cb := cfg.Providers.CircuitBreaker
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
		OnFailure: func(ctx context.Context, name string, err error) {
			observe.Logger(ctx).Warn("provider failed, trying next", "provider", name, "err", err)
		},
	}

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	synth := resilience.NewSynthesizerFallback(primaryTTS, fbCfg)
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		synth.AddFallback(p)
	}
	slog.Info("provider created", "kind", "tts", "name", synth.Name())

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	trans := resilience.NewTranscriberFallback(primarySTT, fbCfg)
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		trans.AddFallback(p)
	}
	slog.Info("provider created", "kind", "stt", "name", trans.Name())

	return synth, trans, nil
}

// ── Cache wiring ──────────────────────────────────────────────────────────────

// openStore opens the configured metadata store. The returned func releases
// it.
func openStore(ctx context.Context, c config.CacheConfig) (cache.Store, func(), error) {
	switch c.Backend {
	case config.CacheMemory:
		return cache.NewMemoryStore(), func() {}, nil

	case config.CacheSQLite:
		s, err := sqlite.Open(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("sqlite close error", "err", err)
			}
		}, nil

	case config.CachePostgres:
		pool, err := pgxpool.New(ctx, c.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", c.Backend)
}

func newRedisLocker(c config.CacheConfig) (*redislock.Locker, func(), error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("redis close error", "err", err)
		}
	}
	return redislock.New(client, redislock.WithTTL(c.LockTTL)), closeFn, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, synth, trans string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      mms-tts-api: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("TTS", synth)
	printRow("STT", trans)
	printRow("Models", fmt.Sprintf("%d", len(cfg.Models)))
	printRow("Presets", fmt.Sprintf("%d", len(cfg.Presets)))
	printRow("Cache", string(cfg.Cache.Backend))
	if cfg.Cache.RedisURL != "" {
		printRow("Locking", "redis")
	} else {
		printRow("Locking", "in-process")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	n, _ := opts[key].(int)
	return n
}
