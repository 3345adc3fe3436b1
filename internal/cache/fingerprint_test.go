package cache

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()
	a := Fingerprint("שָׁלוֹם עולם", "hebrew", "facebook/mms-tts-heb", 1.0)
	b := Fingerprint("שָׁלוֹם עולם", "hebrew", "facebook/mms-tts-heb", 1.0)
	if a != b {
		t.Fatalf("same input produced %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_DistinguishesFields(t *testing.T) {
	t.Parallel()
	base := Fingerprint("hello world", "portuguese", "m", 1)

	tests := []struct {
		name                  string
		text, language, model string
		speed                 float64
	}{
		{"text", "hello  world", "portuguese", "m", 1},
		{"language", "hello world", "greek", "m", 1},
		{"model", "hello world", "portuguese", "n", 1},
		{"speed", "hello world", "portuguese", "m", 1.5},
		{"field boundary", "hello worldportuguese", "", "m", 1},
		{"diacritics", "hélló world", "portuguese", "m", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Fingerprint(tt.text, tt.language, tt.model, tt.speed)
			if got == base {
				t.Errorf("fingerprint collided with base for %s change", tt.name)
			}
		})
	}
}
