package whisper

// pcmToFloat32 converts 16-bit little-endian signed PCM bytes to float32
// samples in [-1, 1). A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
