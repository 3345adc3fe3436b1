// Package audio holds the PCM and WAV plumbing shared by the synthesis and
// transcription providers and the cache artifact store.
//
// All sample data is 16-bit signed little-endian PCM, interleaved when a clip
// has more than one channel.
package audio

import "time"

// bytesPerSample is fixed for 16-bit PCM.
const bytesPerSample = 2

// Clip is a complete, fully-buffered piece of PCM audio.
type Clip struct {
	// PCM is raw 16-bit signed little-endian sample data.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for MMS models, 24000 for OpenAI speech).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Frames returns the number of sample frames (one sample per channel) in c.
func (c Clip) Frames() int {
	ch := c.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(c.PCM) / (bytesPerSample * ch)
}

// Duration returns the playback length of c. A clip with no sample rate has
// zero duration.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(c.Frames()) * int64(time.Second) / int64(c.SampleRate))
}

// Seconds returns the playback length of c in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}
