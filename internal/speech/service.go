// Package speech turns text into audio plus word timings.
//
// A [Service] synthesizes the text with a TTS provider, transcribes the
// result with an STT provider and reconciles the transcript against the
// original words. Both stages go through the dual cache, so each distinct
// request is synthesized and aligned at most once. Audio is the primary
// deliverable: a failed or untrustworthy alignment degrades the result
// instead of failing the request.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
	"github.com/rodolfogoulart/mms-tts-api/internal/observe"
	"github.com/rodolfogoulart/mms-tts-api/pkg/audio"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/tts"
)

// MethodUnavailable is reported when no alignment could be produced.
const MethodUnavailable align.Method = "unavailable"

// Fallback reasons recorded on the fallback counter.
const (
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonLowMatchRatio       = "low_match_ratio"
	ReasonQualityWithheld     = "quality_withheld"
	ReasonCacheError          = "cache_error"
)

// errQualityFloor marks an alignment withheld because of its match ratio.
var errQualityFloor = errors.New("match ratio below quality floor")

// Request is one synthesis request as received from a caller.
type Request struct {
	Text     string
	Language string

	// Model is a catalogue key, or empty / "auto" to pick by language.
	Model string

	// Speed is the length scale in [MinSpeed, MaxSpeed]; 0 means 1.0.
	Speed float64

	// Preset names a catalogue preset; it overrides Speed.
	Preset string
}

// Timings breaks down where a request spent its time.
type Timings struct {
	Synthesis time.Duration
	Alignment time.Duration
	Total     time.Duration
}

// Result is the outcome of a request. Audio is always set.
type Result struct {
	Audio cache.AudioEntry
	Model ModelInfo

	Speed       float64
	SpeedSource string

	// Words is empty, never nil, when AlignmentAvailable is false.
	Words              []align.AlignedWord
	Stats              align.Stats
	Method             align.Method
	AlignmentAvailable bool

	CacheHit          bool
	AlignmentCacheHit bool

	State   State
	Timings Timings
}

// Trigger is notified after a new audio artifact is written.
type Trigger interface {
	Trigger()
}

// Option configures a [Service].
type Option func(*Service)

// WithCatalogue replaces the default model and preset catalogue.
func WithCatalogue(c *Catalogue) Option {
	return func(s *Service) {
		if c != nil {
			s.catalogue.Store(c)
		}
	}
}

// WithTuning replaces the default alignment tuning. It is validated by New.
func WithTuning(t Tuning) Option {
	return func(s *Service) { s.initial = t }
}

// WithEvictor registers a trigger pulled after every new audio write.
func WithEvictor(t Trigger) Option {
	return func(s *Service) { s.evictor = t }
}

// WithMetrics records durations, match ratios and fallbacks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for timings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the alignment orchestrator. It is safe for concurrent use.
type Service struct {
	tts   tts.Provider
	stt   stt.Provider
	cache *cache.DualCache

	catalogue atomic.Pointer[Catalogue]
	tuning    atomic.Pointer[tuned]
	initial   Tuning

	evictor Trigger
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New builds a Service over the given providers and cache.
func New(synth tts.Provider, trans stt.Provider, c *cache.DualCache, opts ...Option) (*Service, error) {
	if synth == nil || trans == nil || c == nil {
		return nil, errors.New("speech: tts, stt and cache are required")
	}
	s := &Service{
		tts:     synth,
		stt:     trans,
		cache:   c,
		initial: DefaultTuning(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.catalogue.Load() == nil {
		cat, err := NewCatalogue(DefaultModels(), DefaultPresets())
		if err != nil {
			return nil, err
		}
		s.catalogue.Store(cat)
	}
	if err := s.SetTuning(s.initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Catalogue returns the active catalogue.
func (s *Service) Catalogue() *Catalogue { return s.catalogue.Load() }

// SetCatalogue swaps the catalogue for subsequent requests.
func (s *Service) SetCatalogue(c *Catalogue) {
	if c != nil {
		s.catalogue.Store(c)
	}
}

// Tuning returns the active alignment tuning.
func (s *Service) Tuning() Tuning { return s.tuning.Load().Tuning }

// SetTuning validates t and swaps it in for subsequent requests. Requests in
// flight keep the tuning they started with.
func (s *Service) SetTuning(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.tuning.Store(t.build())
	return nil
}

// plan is a validated request with everything resolved up front.
type plan struct {
	text        string
	tokens      []align.ReferenceToken
	model       ModelInfo
	speed       float64
	speedSource string
	fingerprint string
	tuning      *tuned
}

func (s *Service) prepare(req Request) (*plan, error) {
	tokens, err := align.Tokenize(req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	cat := s.catalogue.Load()
	model, err := cat.Resolve(req.Language, req.Model)
	if err != nil {
		return nil, err
	}
	speed, source, err := cat.Speed(req.Preset, req.Speed)
	if err != nil {
		return nil, err
	}
	return &plan{
		text:        req.Text,
		tokens:      tokens,
		model:       model,
		speed:       speed,
		speedSource: source,
		fingerprint: cache.Fingerprint(req.Text, model.Language, model.ModelID, speed),
		tuning:      s.tuning.Load(),
	}, nil
}

func (p *plan) annotate(span trace.Span) {
	span.SetAttributes(
		observe.AttrFingerprint.String(p.fingerprint),
		observe.AttrLanguage.String(p.model.Language),
		observe.AttrModel.String(p.model.ModelID),
	)
}

// Synthesize returns cached or freshly synthesized audio without aligning it.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	ctx, span := observe.StartSpan(ctx, "speech.Synthesize")
	defer span.End()
	defer s.track(ctx, "synthesize")()

	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	p.annotate(span)
	tr := newTracker(ctx, s.logger(ctx))
	res, err := s.synthesize(ctx, p, tr)
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(observe.AttrCacheHit.Bool(res.CacheHit))
	res.State = tr.state
	res.Timings.Total = s.now().Sub(start)
	return res, nil
}

// SynthesizeAndAlign returns audio together with one timed entry per word of
// req.Text. Only [ErrInvalidInput], [ErrSynthesisFailed] and infrastructure
// errors are returned; alignment problems yield a Result with
// AlignmentAvailable false.
func (s *Service) SynthesizeAndAlign(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	ctx, span := observe.StartSpan(ctx, "speech.SynthesizeAndAlign")
	defer span.End()
	defer s.track(ctx, "synthesize_and_align")()

	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	p.annotate(span)
	tr := newTracker(ctx, s.logger(ctx))
	res, err := s.synthesize(ctx, p, tr)
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(observe.AttrCacheHit.Bool(res.CacheHit))

	alignStart := s.now()
	s.align(ctx, p, res, tr)
	res.Timings.Alignment = s.now().Sub(alignStart)
	res.Timings.Total = s.now().Sub(start)
	res.State = tr.state
	return res, nil
}

func (s *Service) synthesize(ctx context.Context, p *plan, tr *tracker) (*Result, error) {
	tr.to(StateSynthesizing)
	start := s.now()
	meta := cache.AudioMeta{Language: p.model.Language, Model: p.model.ModelID}
	entry, hit, err := s.cache.GetOrCreateAudio(ctx, p.fingerprint, meta, func(pctx context.Context) (cache.AudioResult, error) {
		return s.produceAudio(pctx, p)
	})
	if err != nil {
		tr.to(StateSynthesisFailed)
		s.logger(ctx).Warn("speech: synthesis failed",
			"fingerprint", p.fingerprint, "language", p.model.Language, "error", err)
		switch {
		case errors.Is(err, ErrSynthesisFailed):
			return nil, err
		case ctx.Err() != nil:
			return nil, fmt.Errorf("speech: synthesize: %w", ctx.Err())
		default:
			return nil, fmt.Errorf("speech: audio cache: %w", err)
		}
	}
	tr.to(StateSynthesized)
	if !hit && s.evictor != nil {
		s.evictor.Trigger()
	}
	return &Result{
		Audio:       entry,
		Model:       p.model,
		Speed:       p.speed,
		SpeedSource: p.speedSource,
		CacheHit:    hit,
		Timings:     Timings{Synthesis: s.now().Sub(start)},
	}, nil
}

// produceAudio runs on a cache miss, detached from the caller's context.
func (s *Service) produceAudio(ctx context.Context, p *plan) (cache.AudioResult, error) {
	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	defer span.End()
	if d := p.tuning.SynthesizeTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	name := s.tts.Name()
	start := s.now()
	clip, err := s.tts.Synthesize(ctx, tts.Request{
		Text:     p.text,
		Language: p.model.isoLanguage(),
		Model:    p.model.ModelID,
		Speed:    p.speed,
	})
	s.recordProvider(ctx, name, "tts", err)
	if err != nil {
		observe.Fail(span, err)
		return cache.AudioResult{}, fmt.Errorf("%w: %s: %w", ErrSynthesisFailed, name, err)
	}
	if clip.Frames() == 0 || clip.SampleRate <= 0 {
		return cache.AudioResult{}, fmt.Errorf("%w: %s returned no audio", ErrSynthesisFailed, name)
	}
	if s.metrics != nil {
		s.metrics.SynthesisDuration.Record(ctx, s.now().Sub(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name), observe.Attr("language", p.model.Language)))
	}
	return cache.AudioResult{
		WAV:        audio.EncodeWAV(clip),
		Duration:   clip.Seconds(),
		SampleRate: clip.SampleRate,
	}, nil
}

// align fills the alignment fields of res. It never fails: problems are
// logged and turned into an unavailable alignment.
func (s *Service) align(ctx context.Context, p *plan, res *Result, tr *tracker) {
	tr.to(StateTranscribing)
	entry, hit, err := s.cache.GetOrCreateAlignment(ctx, res.Audio, func(pctx context.Context, a cache.AudioEntry) (cache.AlignmentResult, error) {
		return s.produceAlignment(pctx, p, a)
	})
	if err != nil {
		reason := ReasonCacheError
		switch {
		case errors.Is(err, errQualityFloor):
			tr.to(StateAligning)
			reason = ReasonQualityWithheld
		case errors.Is(err, ErrAlignmentUnavailable):
			reason = ReasonTranscriptionFailed
		}
		tr.to(StateAlignmentUnavailable)
		s.recordFallback(ctx, reason)
		s.logger(ctx).Warn("speech: alignment unavailable, returning audio only",
			"fingerprint", p.fingerprint, "language", p.model.Language, "reason", reason, "error", err)

		res.Words = []align.AlignedWord{}
		res.Stats = align.Stats{TotalWords: len(p.tokens), Method: MethodUnavailable}
		res.Method = MethodUnavailable
		return
	}

	tr.to(StateAligning)
	tr.to(StateDone)
	res.Words = entry.Words
	if res.Words == nil {
		res.Words = []align.AlignedWord{}
	}
	res.Stats = entry.Stats
	res.Method = entry.Method
	res.AlignmentAvailable = true
	res.AlignmentCacheHit = hit
}

// produceAlignment runs on an alignment miss, detached from the caller's
// context. Errors are not cached, so a later request retries.
func (s *Service) produceAlignment(ctx context.Context, p *plan, entry cache.AudioEntry) (cache.AlignmentResult, error) {
	ctx, span := observe.StartSpan(ctx, "speech.align")
	defer span.End()

	wav, err := s.cache.ReadAudio(ctx, entry)
	if err != nil {
		return cache.AlignmentResult{}, fmt.Errorf("speech: read audio %s: %w", entry.ID, err)
	}
	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return cache.AlignmentResult{}, fmt.Errorf("speech: decode audio %s: %w", entry.ID, err)
	}

	words, err := s.transcribe(ctx, p, clip)
	if err != nil {
		observe.Fail(span, err)
		return cache.AlignmentResult{}, err
	}

	start := s.now()
	obs := make([]align.ObservedToken, len(words))
	for i, w := range words {
		obs[i] = align.ObservedToken{Text: w.Text, Start: w.Start, End: w.End}
	}
	obs = align.SanitizeObserved(obs, entry.Duration)
	matches := p.tuning.matcher.Match(p.tokens, obs)
	aligned, stats := p.tuning.assigner.Assign(p.tokens, obs, matches, entry.Duration)

	if s.metrics != nil {
		attrs := metric.WithAttributes(observe.Attr("language", p.model.Language))
		s.metrics.AlignmentDuration.Record(ctx, s.now().Sub(start).Seconds(), attrs)
		s.metrics.MatchRatio.Record(ctx, stats.MatchRatio, attrs)
	}
	s.logger(ctx).Debug("speech: aligned",
		"fingerprint", p.fingerprint, "words", stats.TotalWords,
		"matched", stats.MatchedWords, "match_ratio", stats.MatchRatio, "method", stats.Method)

	if stats.Method == align.MethodProportional {
		if p.tuning.WithholdEstimates {
			return cache.AlignmentResult{}, fmt.Errorf("%w: %w (%.2f < %.2f)",
				ErrAlignmentUnavailable, errQualityFloor, stats.MatchRatio, p.tuning.QualityFloor)
		}
		s.recordFallback(ctx, ReasonLowMatchRatio)
	}
	return cache.AlignmentResult{Words: aligned, Method: stats.Method, Stats: stats}, nil
}

func (s *Service) transcribe(ctx context.Context, p *plan, clip audio.Clip) ([]stt.Word, error) {
	ctx, span := observe.StartSpan(ctx, "speech.transcribe")
	defer span.End()
	if d := p.tuning.TranscribeTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	req := stt.Request{Clip: clip, Language: p.model.isoLanguage()}
	if p.tuning.UsePrompt {
		req.Prompt = p.text
	}
	name := s.stt.Name()
	start := s.now()
	words, err := s.stt.Transcribe(ctx, req)
	s.recordProvider(ctx, name, "stt", err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAlignmentUnavailable, name, err)
	}
	if s.metrics != nil {
		s.metrics.TranscriptionDuration.Record(ctx, s.now().Sub(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name), observe.Attr("language", p.model.Language)))
	}
	return words, nil
}

// ReadAudio returns the WAV bytes of a cached entry.
func (s *Service) ReadAudio(ctx context.Context, e cache.AudioEntry) ([]byte, error) {
	return s.cache.ReadAudio(ctx, e)
}

// AudioByID looks up a cached audio entry by its ID.
func (s *Service) AudioByID(ctx context.Context, id string) (cache.AudioEntry, error) {
	return s.cache.AudioByID(ctx, id)
}

// Forget deletes the cached audio and alignment for fingerprint.
func (s *Service) Forget(ctx context.Context, fingerprint string) error {
	return s.cache.Delete(ctx, fingerprint)
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	return observe.Enrich(s.log, ctx)
}

// track counts ctx's request as in flight until the returned func is called.
func (s *Service) track(ctx context.Context, op string) func() {
	if s.metrics == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(observe.Attr("operation", op))
	s.metrics.ActiveRequests.Add(ctx, 1, attrs)
	return func() { s.metrics.ActiveRequests.Add(ctx, -1, attrs) }
}

func (s *Service) recordProvider(ctx context.Context, name, kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(ctx, name, kind)
	}
	s.metrics.RecordProviderRequest(ctx, name, kind, status)
}

func (s *Service) recordFallback(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.RecordFallback(ctx, reason)
	}
}

// isoLanguage is the two-letter code providers expect.
func (m ModelInfo) isoLanguage() string {
	if m.TranscribeLanguage != "" {
		return m.TranscribeLanguage
	}
	return m.Language
}
