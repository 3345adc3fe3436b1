// Package api is the HTTP surface of the service: synthesis with word
// timings, plain synthesis, cached audio downloads, catalogue listings and
// cache administration.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rodolfogoulart/mms-tts-api/internal/health"
	"github.com/rodolfogoulart/mms-tts-api/internal/observe"
)

// DefaultMaxBodyBytes caps request bodies when RouterConfig leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// RouterConfig holds the settings for [NewRouter].
type RouterConfig struct {
	// CorsAllowedOrigins lists allowed origins. Empty allows all.
	CorsAllowedOrigins []string

	// AdminAPIKey protects the cache administration routes. Empty leaves
	// them open.
	AdminAPIKey string

	// RequestTimeout bounds each request. Zero disables the limit.
	RequestTimeout time.Duration

	// MaxBodyBytes caps request bodies. Defaults to [DefaultMaxBodyBytes].
	MaxBodyBytes int64

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics enables request tracing and duration metrics when set.
	Metrics *observe.Metrics

	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter wires h and the operational endpoints into a chi router.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(observe.Middleware(cfg.Metrics))
	}

	allowed := cfg.CorsAllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{
			"X-Cache-Hit", "X-Audio-Duration", "X-Audio-ID", "X-Model-Used",
			"X-Language", "X-Voice-Config", "X-Config-Source", "X-Correlation-ID",
		},
		MaxAge: 300,
	}))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r.Group(func(r chi.Router) {
		r.Use(limitBody(maxBody))
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Post("/speak_sync", h.SpeakSync)
		r.Post("/speak", h.Speak)
		r.Get("/audio/{id}", h.Audio)

		r.Get("/models", h.Models)
		r.Get("/languages", h.Languages)
		r.Get("/voice-presets", h.VoicePresets)

		r.Group(func(r chi.Router) {
			if cfg.AdminAPIKey != "" {
				r.Use(APIKeyAuth(cfg.AdminAPIKey))
			}
			r.Delete("/cache/{fingerprint}", h.DeleteCache)
		})
	})

	return r
}
