package align

// ReferenceToken is a whitespace-delimited run of characters taken verbatim
// from the input text. CharStart and CharEnd are half-open character (rune)
// offsets into that text.
type ReferenceToken struct {
	Text      string
	CharStart int
	CharEnd   int
}

// Len returns the token length in characters.
func (t ReferenceToken) Len() int { return t.CharEnd - t.CharStart }

// ObservedToken is a word reported by a transcriber, with times in seconds
// relative to the start of the synthesized audio.
type ObservedToken struct {
	Text  string
	Start float64
	End   float64
}

// AlignedWord is the output unit: the original text of one reference token
// together with its assigned interval.
type AlignedWord struct {
	Text       string  `json:"text"`
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Method records how an alignment was produced.
type Method string

const (
	// MethodForcedAlignment means observed timestamps were used for matched
	// words. Unmatched words may still carry estimated intervals.
	MethodForcedAlignment Method = "forced_alignment"

	// MethodProportional means every interval was estimated from character
	// lengths.
	MethodProportional Method = "proportional_fallback"
)

// Stats summarises one alignment for observability and client-side trust
// signalling.
type Stats struct {
	TotalWords   int     `json:"total_words"`
	MatchedWords int     `json:"matched_words"`
	MatchRatio   float64 `json:"match_ratio"`
	Method       Method  `json:"method"`
}
