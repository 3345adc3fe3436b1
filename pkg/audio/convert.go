package audio

import (
	"encoding/binary"
	"fmt"
)

// Samples decodes the interleaved PCM of c into int16 samples.
func Samples(c Clip) []int16 {
	out := make([]int16, len(c.PCM)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(c.PCM[i*bytesPerSample:]))
	}
	return out
}

// FromInt16 packs samples into little-endian PCM bytes.
func FromInt16(samples []int16) []byte {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(s))
	}
	return buf
}

// Mono returns c down-mixed to one channel by averaging every frame. Mono
// clips are returned unchanged.
func Mono(c Clip) Clip {
	if c.Channels <= 1 {
		return c
	}
	in := Samples(c)
	frames := len(in) / c.Channels
	out := make([]int16, frames)
	for i := range out {
		var sum int32
		for _, s := range in[i*c.Channels : (i+1)*c.Channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(c.Channels))
	}
	return Clip{PCM: FromInt16(out), SampleRate: c.SampleRate, Channels: 1}
}

// Resample returns a mono copy of c at rate Hz using linear interpolation.
// A clip already at rate, or one with an unknown rate, is only down-mixed.
func Resample(c Clip, rate int) Clip {
	m := Mono(c)
	if rate <= 0 || m.SampleRate <= 0 || m.SampleRate == rate {
		return m
	}
	in := Samples(m)
	n := int(int64(len(in)) * int64(rate) / int64(m.SampleRate))
	out := make([]int16, n)
	step := float64(m.SampleRate) / float64(rate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		next := in[j]
		if j+1 < len(in) {
			next = in[j+1]
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(next)*frac)
	}
	return Clip{PCM: FromInt16(out), SampleRate: rate, Channels: 1}
}

// Float32 converts c to mono samples in [-1, 1], the input format whisper.cpp
// expects.
func Float32(c Clip) []float32 {
	in := Samples(Mono(c))
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// String implements fmt.Stringer, e.g. "22050Hz mono 1.25s".
func (c Clip) String() string {
	layout := "mono"
	switch {
	case c.Channels == 2:
		layout = "stereo"
	case c.Channels > 2:
		layout = fmt.Sprintf("%dch", c.Channels)
	}
	return fmt.Sprintf("%dHz %s %.2fs", c.SampleRate, layout, c.Seconds())
}
