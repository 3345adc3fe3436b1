package speech

import "errors"

// The error taxonomy of a synthesis request. Only ErrInvalidInput and
// ErrSynthesisFailed ever reach the caller; ErrAlignmentUnavailable is
// recovered into a degraded [Result].
var (
	// ErrInvalidInput means the request was rejected before any provider call:
	// empty text, unknown language, model or preset, or speed out of range.
	ErrInvalidInput = errors.New("speech: invalid input")

	// ErrSynthesisFailed means the TTS provider failed or timed out. Without
	// audio there is nothing to return.
	ErrSynthesisFailed = errors.New("speech: synthesis failed")

	// ErrAlignmentUnavailable means no trustworthy word timings could be
	// produced: the transcriber failed or timed out, or the match quality was
	// below the floor while estimates are withheld.
	ErrAlignmentUnavailable = errors.New("speech: alignment unavailable")
)
