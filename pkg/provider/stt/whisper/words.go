package whisper

import (
	"strings"
	"unicode/utf8"

	"github.com/rodolfogoulart/mms-tts-api/pkg/provider/stt"
)

// segment is a timed span of recognised text, as produced by either backend.
type segment struct {
	text       string
	start, end float64
}

// collectWords turns segments into words. Both backends are configured for
// one word per segment, but whisper sometimes still emits several; those are
// split by character length across the segment's interval. Special markers
// such as "[BLANK_AUDIO]" or "[_BEG_]" are dropped.
func collectWords(segs []segment) []stt.Word {
	var out []stt.Word
	for _, s := range segs {
		fields := strings.Fields(s.text)
		kept := fields[:0]
		for _, f := range fields {
			if !isMarker(f) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if s.end < s.start {
			s.end = s.start
		}
		if len(kept) == 1 {
			out = append(out, stt.Word{Text: kept[0], Start: s.start, End: s.end})
			continue
		}

		total := 0
		for _, f := range kept {
			total += utf8.RuneCountInString(f)
		}
		span := s.end - s.start
		cursor, acc := s.start, 0
		for i, f := range kept {
			acc += utf8.RuneCountInString(f)
			end := s.start + span*float64(acc)/float64(total)
			if i == len(kept)-1 {
				end = s.end
			}
			out = append(out, stt.Word{Text: f, Start: cursor, End: end})
			cursor = end
		}
	}
	return out
}

func isMarker(tok string) bool {
	return len(tok) >= 2 &&
		((tok[0] == '[' && tok[len(tok)-1] == ']') || (tok[0] == '<' && tok[len(tok)-1] == '>'))
}
