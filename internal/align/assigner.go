package align

const (
	// DefaultQualityFloor is the match ratio below which every word falls
	// back to proportional distribution.
	DefaultQualityFloor = 0.5

	// DefaultFallbackConfidence marks an interval as estimated, not observed.
	DefaultFallbackConfidence = 0.3

	// DefaultMinInterval is the shortest interval, in seconds, a word may get.
	DefaultMinInterval = 0.001
)

// AssignerOption is a functional option for configuring an [Assigner].
type AssignerOption func(*Assigner)

// WithQualityFloor sets the match ratio below which all matched intervals are
// discarded. Default: 0.5.
func WithQualityFloor(f float64) AssignerOption {
	return func(a *Assigner) {
		a.floor = f
	}
}

// WithFallbackConfidence sets the confidence given to estimated intervals.
// Default: 0.3.
func WithFallbackConfidence(c float64) AssignerOption {
	return func(a *Assigner) {
		if c >= 0 && c <= 1 {
			a.fallbackConfidence = c
		}
	}
}

// WithMinInterval sets the minimum positive interval length in seconds.
// Values <= 0 are ignored. Default: 1ms.
func WithMinInterval(d float64) AssignerOption {
	return func(a *Assigner) {
		if d > 0 {
			a.minInterval = d
		}
	}
}

// Assigner converts match results into one [AlignedWord] per reference token.
// It is read-only after construction and safe for concurrent use.
type Assigner struct {
	floor              float64
	fallbackConfidence float64
	minInterval        float64
}

// NewAssigner returns an [Assigner] configured with the supplied options.
func NewAssigner(opts ...AssignerOption) *Assigner {
	a := &Assigner{
		floor:              DefaultQualityFloor,
		fallbackConfidence: DefaultFallbackConfidence,
		minInterval:        DefaultMinInterval,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// QualityFloor returns the configured quality floor.
func (a *Assigner) QualityFloor() float64 { return a.floor }

// FallbackConfidence returns the confidence given to estimated intervals.
func (a *Assigner) FallbackConfidence() float64 { return a.fallbackConfidence }

// Assign builds the final word list. It never fails and always returns
// len(ref) words.
//
// Matched words copy the observed interval and use the match similarity as
// confidence. Runs of unmatched words share the gap between their matched
// neighbours (or the audio edges) in proportion to character length. When the
// match ratio is below the quality floor, matched intervals are discarded and
// every word is distributed over the whole audio.
//
// duration <= 0 is treated as len(ref) minimum intervals so that every word
// still gets a positive interval.
func (a *Assigner) Assign(ref []ReferenceToken, obs []ObservedToken, matches []Match, duration float64) ([]AlignedWord, Stats) {
	if len(ref) == 0 {
		return []AlignedWord{}, Stats{Method: MethodProportional}
	}
	duration = a.effectiveDuration(len(ref), duration)

	words := newWords(ref)
	byRef := make([]Match, len(ref))
	for i := range byRef {
		byRef[i] = Match{Ref: i, Obs: -1}
	}
	for _, m := range matches {
		if m.Ref < 0 || m.Ref >= len(ref) || m.Obs >= len(obs) || !m.Matched() {
			continue
		}
		byRef[m.Ref] = m
	}
	matched := 0
	for _, m := range byRef {
		if m.Matched() {
			matched++
		}
	}

	stats := Stats{
		TotalWords:   len(ref),
		MatchedWords: matched,
		MatchRatio:   float64(matched) / float64(len(ref)),
	}

	if stats.MatchRatio < a.floor || matched == 0 {
		stats.Method = MethodProportional
		a.spread(words, 0, len(words), 0, duration)
		a.enforce(words, duration)
		return words, stats
	}

	stats.Method = MethodForcedAlignment
	for i, m := range byRef {
		if !m.Matched() {
			continue
		}
		words[i].Start = obs[m.Obs].Start
		words[i].End = obs[m.Obs].End
		words[i].Confidence = clamp(m.Similarity, 0, 1)
	}

	// Fill each run of unmatched words between anchors.
	for i := 0; i < len(words); {
		if byRef[i].Matched() {
			i++
			continue
		}
		j := i
		for j < len(words) && !byRef[j].Matched() {
			j++
		}
		from := 0.0
		if i > 0 {
			from = words[i-1].End
		}
		to := duration
		if j < len(words) {
			to = words[j].Start
		}
		if to < from {
			to = from
		}
		a.spread(words, i, j, from, to)
		i = j
	}

	a.enforce(words, duration)
	return words, stats
}

// Proportional distributes duration over every reference token by character
// length, marking every word with the fallback confidence.
func (a *Assigner) Proportional(ref []ReferenceToken, duration float64) []AlignedWord {
	if len(ref) == 0 {
		return []AlignedWord{}
	}
	duration = a.effectiveDuration(len(ref), duration)
	words := newWords(ref)
	a.spread(words, 0, len(words), 0, duration)
	a.enforce(words, duration)
	return words
}

func (a *Assigner) effectiveDuration(n int, duration float64) float64 {
	if duration > 0 {
		return duration
	}
	return float64(n) * a.minInterval
}

func newWords(ref []ReferenceToken) []AlignedWord {
	words := make([]AlignedWord, len(ref))
	for i, r := range ref {
		words[i] = AlignedWord{Text: r.Text, CharStart: r.CharStart, CharEnd: r.CharEnd}
	}
	return words
}

// spread assigns words[lo:hi] consecutive intervals covering [from, to] whose
// lengths are proportional to each token's character length.
func (a *Assigner) spread(words []AlignedWord, lo, hi int, from, to float64) {
	total := 0
	for _, w := range words[lo:hi] {
		total += charLen(w)
	}
	span := to - from
	cum := 0
	for i := lo; i < hi; i++ {
		words[i].Start = from + span*float64(cum)/float64(total)
		cum += charLen(words[i])
		words[i].End = from + span*float64(cum)/float64(total)
		words[i].Confidence = a.fallbackConfidence
	}
	// Pin the last boundary to avoid accumulated rounding drift.
	words[hi-1].End = to
}

func charLen(w AlignedWord) int {
	if n := w.CharEnd - w.CharStart; n > 0 {
		return n
	}
	return 1
}

// enforce guarantees the output postconditions regardless of the input:
// intervals inside [0, duration], non-decreasing starts, and End > Start.
func (a *Assigner) enforce(words []AlignedWord, duration float64) {
	minIv := min(a.minInterval, duration)
	prevStart := 0.0
	for i := range words {
		w := &words[i]
		w.Start = clamp(w.Start, 0, duration)
		w.End = clamp(w.End, 0, duration)
		if w.Start < prevStart {
			w.Start = prevStart
		}
		// Monotone, so order between words is kept.
		if w.Start > duration-minIv {
			w.Start = duration - minIv
		}
		if w.End < w.Start+minIv {
			w.End = min(w.Start+minIv, duration)
		}
		prevStart = w.Start
	}
}
