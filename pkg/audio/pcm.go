// Package audio provides the PCM and WAV primitives shared by the voice
// pipelines: 16-bit little-endian sample conversion, multi-channel downmix,
// linear resampling, and a small RIFF/WAVE codec tolerant of the malformed
// headers some TTS engines produce.
package audio

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// DownmixToMono averages the samples of each frame of channels-interleaved
// 16-bit PCM into a single mono sample. channels must be >= 1; input bytes
// beyond the last complete frame are dropped.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	if channels == 2 {
		return StereoToMono(pcm)
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var acc int32
		base := i * frameBytes
		for c := range channels {
			o := base + c*2
			acc += int32(int16(pcm[o]) | int16(pcm[o+1])<<8)
		}
		avg := acc / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate or either rate is invalid, the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	if srcSamples == 0 {
		return nil
	}
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}
	out := make([]byte, dstSamples*2)
	for i := range dstSamples {
		// Fixed-point source position with 16 fractional bits.
		pos := int64(i) * int64(srcRate) << 16 / int64(dstRate)
		idx := int(pos >> 16)
		frac := int32(pos & 0xFFFF)
		s0 := int32(int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = int32(int16(pcm[(idx+1)*2]) | int16(pcm[(idx+1)*2+1])<<8)
		}
		v := s0 + (s1-s0)*frac>>16
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Silence returns ms milliseconds of silent 16-bit PCM at the given sample
// rate and channel count.
func Silence(ms, sampleRate, channels int) []byte {
	if ms <= 0 {
		return nil
	}
	return make([]byte, sampleRate*ms/1000*channels*2)
}

// AlignToSamples truncates n down to a multiple of 2 so chunk boundaries
// never split a 16-bit sample.
func AlignToSamples(n int) int {
	return n &^ 1
}
