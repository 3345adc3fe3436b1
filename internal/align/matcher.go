package align

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/rodolfogoulart/mms-tts-api/internal/textnorm"
)

const (
	// DefaultWindow is the number of unconsumed observed tokens considered
	// for each reference token.
	DefaultWindow = 6

	// DefaultAcceptThreshold is the minimum similarity for a match.
	DefaultAcceptThreshold = 0.5
)

// Match pairs a reference token with the observed token it was matched to.
type Match struct {
	// Ref is the index into the reference tokens.
	Ref int

	// Obs is the index into the observed tokens, or -1 when unmatched.
	Obs int

	// Similarity is in [0, 1]; 0 when unmatched.
	Similarity float64
}

// Matched reports whether m carries an observed token.
func (m Match) Matched() bool { return m.Obs >= 0 }

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithWindow sets the lookahead window size. Values below 1 are ignored.
// Default: 6.
func WithWindow(k int) MatcherOption {
	return func(m *Matcher) {
		if k >= 1 {
			m.window = k
		}
	}
}

// WithAcceptThreshold sets the minimum similarity for accepting a candidate.
// Default: 0.5.
func WithAcceptThreshold(t float64) MatcherOption {
	return func(m *Matcher) {
		m.threshold = t
	}
}

// Matcher greedily pairs reference tokens with observed tokens in order. It
// is read-only after construction and safe for concurrent use.
type Matcher struct {
	window    int
	threshold float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		window:    DefaultWindow,
		threshold: DefaultAcceptThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Window returns the configured lookahead window.
func (m *Matcher) Window() int { return m.window }

// AcceptThreshold returns the configured acceptance threshold.
func (m *Matcher) AcceptThreshold() float64 { return m.threshold }

// Match returns exactly one [Match] per reference token, in reference order.
//
// For each reference token only the next Window unconsumed observed tokens
// are candidates. The best-scoring candidate wins, with ties going to the
// earliest one. An accepted match consumes the candidate and every observed
// token before it; a rejected token consumes nothing. Reference tokens whose
// normalized form is empty are never matched on text and are left for the
// assigner to place by position.
func (m *Matcher) Match(ref []ReferenceToken, obs []ObservedToken) []Match {
	normObs := make([]string, len(obs))
	for i, o := range obs {
		normObs[i] = textnorm.Normalize(o.Text)
	}

	out := make([]Match, len(ref))
	cursor := 0
	for i, r := range ref {
		out[i] = Match{Ref: i, Obs: -1}

		nr := textnorm.Normalize(r.Text)
		if nr == "" {
			continue
		}

		best, bestScore := -1, 0.0
		end := min(cursor+m.window, len(obs))
		for j := cursor; j < end; j++ {
			s := similarity(nr, normObs[j])
			if s > bestScore {
				best, bestScore = j, s
			}
			if s == 1 {
				break
			}
		}

		if best >= 0 && bestScore >= m.threshold {
			out[i] = Match{Ref: i, Obs: best, Similarity: bestScore}
			cursor = best + 1
		}
	}
	return out
}

// Similarity compares the normalized forms of a and b and returns a ratio in
// [0, 1] based on their longest common subsequence. Identical normalized
// forms score exactly 1.
func Similarity(a, b string) float64 {
	return similarity(textnorm.Normalize(a), textnorm.Normalize(b))
}

// similarity works on already-normalized strings.
func similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return 2 * float64(lcs) / float64(la+lb)
}
