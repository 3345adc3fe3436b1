package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// fingerprintVersion is mixed into every digest so a change to the key layout
// never collides with entries written by an older layout.
const fingerprintVersion = "v1"

// Fingerprint returns the cache key for a synthesis request.
//
// The literal text is hashed, not a normalized form: different diacritics can
// legitimately produce different audio. Each field is length-prefixed so that
// no two distinct tuples share an encoding.
func Fingerprint(text, language, model string, speed float64) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, field := range []string{
		fingerprintVersion,
		text,
		language,
		model,
		strconv.FormatFloat(speed, 'g', -1, 64),
	} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
