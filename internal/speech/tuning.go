package speech

import (
	"errors"
	"fmt"
	"time"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
)

// Default timeouts for the provider calls made on a cache miss.
const (
	DefaultSynthesizeTimeout = 120 * time.Second
	DefaultTranscribeTimeout = 60 * time.Second
)

// Tuning holds the alignment knobs that may change while the service runs.
type Tuning struct {
	// Window is how many observed tokens past the cursor the matcher scans.
	Window int

	// AcceptThreshold is the minimum similarity for a match.
	AcceptThreshold float64

	// QualityFloor is the match ratio below which every interval is
	// estimated proportionally.
	QualityFloor float64

	// FallbackConfidence is reported for estimated intervals.
	FallbackConfidence float64

	SynthesizeTimeout time.Duration
	TranscribeTimeout time.Duration

	// WithholdEstimates reports the alignment as unavailable instead of
	// returning a fully proportional estimate.
	WithholdEstimates bool

	// UsePrompt passes the text to the transcriber as a decoding prompt.
	UsePrompt bool
}

// DefaultTuning returns the tuning used when none is configured.
func DefaultTuning() Tuning {
	return Tuning{
		Window:             align.DefaultWindow,
		AcceptThreshold:    align.DefaultAcceptThreshold,
		QualityFloor:       align.DefaultQualityFloor,
		FallbackConfidence: align.DefaultFallbackConfidence,
		SynthesizeTimeout:  DefaultSynthesizeTimeout,
		TranscribeTimeout:  DefaultTranscribeTimeout,
		UsePrompt:          true,
	}
}

// Validate reports every out-of-range field.
func (t Tuning) Validate() error {
	var errs []error
	if t.Window < 1 {
		errs = append(errs, fmt.Errorf("speech: window must be at least 1, got %d", t.Window))
	}
	if t.AcceptThreshold <= 0 || t.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech: accept threshold must be in (0, 1], got %g", t.AcceptThreshold))
	}
	if t.QualityFloor < 0 || t.QualityFloor > 1 {
		errs = append(errs, fmt.Errorf("speech: quality floor must be in [0, 1], got %g", t.QualityFloor))
	}
	if t.FallbackConfidence < 0 || t.FallbackConfidence > 1 {
		errs = append(errs, fmt.Errorf("speech: fallback confidence must be in [0, 1], got %g", t.FallbackConfidence))
	}
	if t.SynthesizeTimeout < 0 {
		errs = append(errs, errors.New("speech: synthesize timeout must not be negative"))
	}
	if t.TranscribeTimeout < 0 {
		errs = append(errs, errors.New("speech: transcribe timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// tuned is a Tuning with its matcher and assigner built once.
type tuned struct {
	Tuning
	matcher  *align.Matcher
	assigner *align.Assigner
}

func (t Tuning) build() *tuned {
	return &tuned{
		Tuning: t,
		matcher: align.NewMatcher(
			align.WithWindow(t.Window),
			align.WithAcceptThreshold(t.AcceptThreshold),
		),
		assigner: align.NewAssigner(
			align.WithQualityFloor(t.QualityFloor),
			align.WithFallbackConfidence(t.FallbackConfidence),
		),
	}
}
