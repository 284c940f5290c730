package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVFormat describes the sample layout of a decoded WAV payload.
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ErrUnsupportedSampleWidth is returned when a WAV file does not carry 16-bit
// samples. The pipelines only speak PCM16.
var ErrUnsupportedSampleWidth = errors.New("audio: unsupported sample width")

// EncodeWAV wraps raw 16-bit little-endian PCM in a canonical RIFF/WAVE
// header with a correct frame count.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	out := make([]byte, 44+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// DecodeWAV parses a RIFF/WAVE byte string and returns its format and raw PCM
// payload. It walks the chunk list rather than assuming a 44-byte header, and
// tolerates a bogus data-chunk size (some TTS engines emit 0x7fffffff) by
// clamping to the bytes actually present.
func DecodeWAV(wav []byte) (WAVFormat, []byte, error) {
	var f WAVFormat
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return f, nil, errors.New("audio: not a RIFF/WAVE stream")
	}

	var pcm []byte
	haveFmt := false
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(wav) {
				return f, nil, errors.New("audio: truncated fmt chunk")
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			haveFmt = true
		case "data":
			end := body + size
			if size < 0 || end > len(wav) {
				// Bogus size: take everything to EOF.
				end = len(wav)
			}
			pcm = wav[body:end]
		}

		if size < 0 || body+size > len(wav) {
			break
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if !haveFmt {
		return f, nil, errors.New("audio: missing fmt chunk")
	}
	if pcm == nil {
		return f, nil, errors.New("audio: missing data chunk")
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return f, nil, fmt.Errorf("audio: invalid format %d ch %d Hz", f.Channels, f.SampleRate)
	}
	return f, pcm, nil
}

// NormalizeWAV re-wraps the frames of a WAV byte string with a clean header.
// Some TTS engines emit headers with a bogus frame count that break strict
// players; the re-encoded output always carries the true data length. On
// decode failure the input is returned unchanged.
func NormalizeWAV(wav []byte) []byte {
	f, pcm, err := DecodeWAV(wav)
	if err != nil {
		return wav
	}
	if f.BitsPerSample != 16 {
		return wav
	}
	return EncodeWAV(pcm, f.SampleRate, f.Channels)
}

// AddLeadingSilence prepends ms milliseconds of silence to a WAV byte string.
// Used to avoid Bluetooth sinks clipping the first syllable. On decode
// failure or ms <= 0 the input is returned unchanged.
func AddLeadingSilence(wav []byte, ms int) []byte {
	if ms <= 0 {
		return wav
	}
	f, pcm, err := DecodeWAV(wav)
	if err != nil || f.BitsPerSample != 16 {
		return wav
	}
	sil := Silence(ms, f.SampleRate, f.Channels)
	joined := make([]byte, 0, len(sil)+len(pcm))
	joined = append(joined, sil...)
	joined = append(joined, pcm...)
	return EncodeWAV(joined, f.SampleRate, f.Channels)
}

// WAVToPCM16Mono extracts 16 kHz-agnostic mono PCM16 from a WAV byte string,
// downmixing multi-channel input by per-sample averaging. It returns
// ErrUnsupportedSampleWidth for anything other than 16-bit samples.
func WAVToPCM16Mono(wav []byte) ([]byte, WAVFormat, error) {
	f, pcm, err := DecodeWAV(wav)
	if err != nil {
		return nil, f, err
	}
	if f.BitsPerSample != 16 {
		return nil, f, fmt.Errorf("%w: %d bits", ErrUnsupportedSampleWidth, f.BitsPerSample)
	}
	mono := DownmixToMono(pcm, f.Channels)
	f.Channels = 1
	return mono, f, nil
}
