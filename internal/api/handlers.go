package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
	"github.com/rodolfogoulart/mms-tts-api/internal/observe"
	"github.com/rodolfogoulart/mms-tts-api/internal/speech"
)

// Speaker is the orchestration surface the handlers depend on.
type Speaker interface {
	SynthesizeAndAlign(ctx context.Context, req speech.Request) (*speech.Result, error)
	Synthesize(ctx context.Context, req speech.Request) (*speech.Result, error)
	AudioByID(ctx context.Context, id string) (cache.AudioEntry, error)
	ReadAudio(ctx context.Context, e cache.AudioEntry) ([]byte, error)
	Forget(ctx context.Context, fingerprint string) error
	Catalogue() *speech.Catalogue
}

var _ Speaker = (*speech.Service)(nil)

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithPublicBaseURL prefixes audio URLs in responses, e.g.
// "https://tts.example.com". By default URLs are relative.
func WithPublicBaseURL(u string) HandlerOption {
	return func(h *Handler) { h.baseURL = strings.TrimRight(u, "/") }
}

// Handler implements the HTTP endpoints on top of a [Speaker].
type Handler struct {
	svc     Speaker
	baseURL string
}

// NewHandler returns a Handler serving svc.
func NewHandler(svc Speaker, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc}
	for _, o := range opts {
		o(h)
	}
	return h
}

type wordJSON struct {
	Text       string  `json:"text"`
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type statsJSON struct {
	TotalWords   int     `json:"total_words"`
	MatchedWords int     `json:"matched_words"`
	MatchRatio   float64 `json:"match_ratio"`
}

type processingTimeJSON struct {
	SynthesisSeconds float64 `json:"synthesis_seconds"`
	AlignmentSeconds float64 `json:"alignment_seconds"`
	TotalSeconds     float64 `json:"total_seconds"`
}

type speakSyncResponse struct {
	AudioURL           string             `json:"audio_url"`
	AudioID            string             `json:"audio_id"`
	Fingerprint        string             `json:"fingerprint"`
	Language           string             `json:"language"`
	LanguageName       string             `json:"language_name"`
	ModelUsed          string             `json:"model_used"`
	Speed              float64            `json:"speed"`
	SpeedSource        string             `json:"speed_source"`
	Duration           float64            `json:"duration"`
	WordCount          int                `json:"word_count"`
	Words              []wordJSON         `json:"words"`
	AlignmentAvailable bool               `json:"alignment_available"`
	CacheHit           bool               `json:"cache_hit"`
	AlignmentCacheHit  bool               `json:"alignment_cache_hit"`
	AlignmentStats     statsJSON          `json:"alignment_stats"`
	AlignmentMethod    string             `json:"alignment_method"`
	ProcessingTime     processingTimeJSON `json:"processing_time"`
}

// SpeakSync handles POST /speak_sync: audio reference plus word timings.
func (h *Handler) SpeakSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSpeakRequest(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	res, err := h.svc.SynthesizeAndAlign(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	words := make([]wordJSON, len(res.Words))
	for i, wd := range res.Words {
		words[i] = wordJSON{
			Text:       wd.Text,
			CharStart:  wd.CharStart,
			CharEnd:    wd.CharEnd,
			Start:      roundMillis(wd.Start),
			End:        roundMillis(wd.End),
			Confidence: roundTo(wd.Confidence, 3),
		}
	}
	respondJSON(w, http.StatusOK, speakSyncResponse{
		AudioURL:           h.audioURL(res.Audio.ID),
		AudioID:            res.Audio.ID,
		Fingerprint:        res.Audio.Fingerprint,
		Language:           res.Model.Language,
		LanguageName:       res.Model.LanguageName,
		ModelUsed:          res.Model.Name,
		Speed:              res.Speed,
		SpeedSource:        res.SpeedSource,
		Duration:           roundMillis(res.Audio.Duration),
		WordCount:          len(words),
		Words:              words,
		AlignmentAvailable: res.AlignmentAvailable,
		CacheHit:           res.CacheHit,
		AlignmentCacheHit:  res.AlignmentCacheHit,
		AlignmentStats: statsJSON{
			TotalWords:   res.Stats.TotalWords,
			MatchedWords: res.Stats.MatchedWords,
			MatchRatio:   roundTo(res.Stats.MatchRatio, 3),
		},
		AlignmentMethod: string(res.Method),
		ProcessingTime: processingTimeJSON{
			SynthesisSeconds: roundTo(res.Timings.Synthesis.Seconds(), 2),
			AlignmentSeconds: roundTo(res.Timings.Alignment.Seconds(), 2),
			TotalSeconds:     roundTo(res.Timings.Total.Seconds(), 2),
		},
	})
}

// Speak handles POST /speak: the WAV audio only.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSpeakRequest(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	res, err := h.svc.Synthesize(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	data, err := h.svc.ReadAudio(r.Context(), res.Audio)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("X-Cache-Hit", strconv.FormatBool(res.CacheHit))
	hdr.Set("X-Audio-Duration", strconv.FormatFloat(roundMillis(res.Audio.Duration), 'f', -1, 64))
	hdr.Set("X-Audio-ID", res.Audio.ID)
	hdr.Set("X-Model-Used", res.Model.Name)
	hdr.Set("X-Language", res.Model.LanguageName)
	hdr.Set("X-Voice-Config", "speed:"+strconv.FormatFloat(res.Speed, 'f', -1, 64))
	hdr.Set("X-Config-Source", res.SpeedSource)
	hdr.Set("Content-Disposition", fmt.Sprintf(`inline; filename="tts_%s_%s.wav"`, res.Model.Language, res.Audio.ID))
	writeWAV(w, data)
}

// Audio handles GET /audio/{id}.
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.svc.AudioByID(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	data, err := h.svc.ReadAudio(r.Context(), entry)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, entry.ID+".wav", entry.CreatedAt, bytes.NewReader(data))
}

// Models handles GET /models.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	models := h.svc.Catalogue().Models()
	respondJSON(w, http.StatusOK, map[string]any{
		"models":       models,
		"total_models": len(models),
	})
}

// Languages handles GET /languages.
func (h *Handler) Languages(w http.ResponseWriter, _ *http.Request) {
	langs := h.svc.Catalogue().Languages()
	respondJSON(w, http.StatusOK, map[string]any{
		"supported_languages": langs,
		"total_languages":     len(langs),
	})
}

// VoicePresets handles GET /voice-presets.
func (h *Handler) VoicePresets(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"presets": h.svc.Catalogue().Presets(),
		"note":    "speed is a length scale: values above 1.0 produce slower, longer speech",
	})
}

// DeleteCache handles DELETE /cache/{fingerprint}. The alignment and audio
// artifact go with the entry; a missing entry is not an error.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	if err := h.svc.Forget(r.Context(), fp); err != nil {
		h.respondErr(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("api: cache entry deleted", "fingerprint", fp)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) audioURL(id string) string {
	return h.baseURL + "/audio/" + id
}

// respondErr maps the error taxonomy onto HTTP status codes.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, speech.ErrInvalidInput), errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrConsistency):
		respondError(w, http.StatusNotFound, "audio not found")
	case errors.Is(err, speech.ErrSynthesisFailed):
		observe.Logger(r.Context()).Error("api: synthesis failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusBadGateway, "speech synthesis failed")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		slog.Debug("api: request canceled", "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		observe.Logger(r.Context()).Error("api: internal error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func writeWAV(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("api: write audio", "error", err)
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// roundMillis rounds seconds to whole milliseconds.
func roundMillis(v float64) float64 { return roundTo(v, 3) }
