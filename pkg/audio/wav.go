package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a PCM
// RIFF/WAVE container this package can read.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

// wavHeaderSize is the size of the canonical header written by [EncodeWAV].
const wavHeaderSize = 44

// EncodeWAV wraps c in a standard 44-byte RIFF/WAV container.
func EncodeWAV(c Clip) []byte {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	bps := bytesPerSample * 8
	byteRate := c.SampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(c.PCM)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], c.PCM)

	return buf
}

// DecodeWAV walks the RIFF chunks of wav and returns the PCM payload together
// with the format from the "fmt " sub-chunk. The returned PCM aliases wav.
//
// Only 16-bit integer PCM is accepted. A data chunk whose declared size runs
// past the end of the buffer (common with streamed server responses) is
// truncated to what is present.
func DecodeWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 {
		return Clip{}, fmt.Errorf("%w: too short to be a RIFF file", ErrInvalidWAV)
	}
	if string(wav[0:4]) != "RIFF" {
		return Clip{}, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(wav[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing WAVE identifier", ErrInvalidWAV)
	}

	var (
		clip     Clip
		foundFmt bool
	)

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return Clip{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			fmtData := wav[offset+8:]
			format := binary.LittleEndian.Uint16(fmtData[0:2])
			bits := binary.LittleEndian.Uint16(fmtData[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which some servers use for plain PCM.
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return Clip{}, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, format, bits)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			start := offset + 8
			end := start + chunkSize
			if end > len(wav) || chunkSize == 0 {
				end = len(wav)
			}
			pcm := wav[start:end]
			if len(pcm)%2 != 0 {
				pcm = pcm[:len(pcm)-1]
			}
			clip.PCM = pcm
			return clip, nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
