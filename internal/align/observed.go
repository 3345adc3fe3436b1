package align

import (
	"slices"
	"strings"
)

// SanitizeObserved returns a cleaned copy of tokens that respects the
// transcriber contract the matcher relies on: no blank text, times inside
// [0, duration], End >= Start, and ordered by start time. A duration <= 0
// disables the upper clamp.
func SanitizeObserved(tokens []ObservedToken, duration float64) []ObservedToken {
	out := make([]ObservedToken, 0, len(tokens))
	for _, t := range tokens {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		start, end := clamp(t.Start, 0, duration), clamp(t.End, 0, duration)
		if end < start {
			end = start
		}
		out = append(out, ObservedToken{Text: text, Start: start, End: end})
	}
	slices.SortStableFunc(out, func(a, b ObservedToken) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
