package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, -1, 32767, -32768})
	wav := EncodeWAV(pcm, 16000, 1)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}

	f, got, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("format = %+v", f)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("payload mismatch")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Error("expected error for non-RIFF input")
	}
	if _, _, err := DecodeWAV(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestDecodeWAVToleratesBogusDataSize(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{10, 20, 30})
	wav := EncodeWAV(pcm, 22050, 1)
	// Overwrite the data-chunk size with the 0x7fffffff sentinel some engines
	// emit for streamed output.
	binary.LittleEndian.PutUint32(wav[40:44], 0x7fffffff)

	_, got, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("payload mismatch with bogus data size")
	}
}

func TestNormalizeWAVFixesHeader(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{5, 6})
	wav := EncodeWAV(pcm, 16000, 1)
	binary.LittleEndian.PutUint32(wav[40:44], 0x7fffffff)

	norm := NormalizeWAV(wav)
	if got := binary.LittleEndian.Uint32(norm[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestAddLeadingSilence(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{100})
	wav := EncodeWAV(pcm, 16000, 1)

	out := AddLeadingSilence(wav, 50)
	_, got, err := DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	// 50 ms at 16 kHz mono = 800 samples of silence plus the original sample.
	if len(got) != 800*2+len(pcm) {
		t.Errorf("payload = %d bytes, want %d", len(got), 800*2+len(pcm))
	}
	if !bytes.Equal(AddLeadingSilence(wav, 0), wav) {
		t.Error("ms <= 0 should return input unchanged")
	}
}

func TestWAVToPCM16Mono(t *testing.T) {
	t.Parallel()

	t.Run("stereo downmix", func(t *testing.T) {
		t.Parallel()
		stereo := samplesToBytes([]int16{100, 300, 200, 400})
		wav := EncodeWAV(stereo, 44100, 2)
		mono, f, err := WAVToPCM16Mono(wav)
		if err != nil {
			t.Fatalf("WAVToPCM16Mono: %v", err)
		}
		if f.Channels != 1 || f.SampleRate != 44100 {
			t.Errorf("format = %+v", f)
		}
		got := bytesToSamples(mono)
		if len(got) != 2 || got[0] != 200 || got[1] != 300 {
			t.Errorf("samples = %v, want [200 300]", got)
		}
	})

	t.Run("non-16-bit rejected", func(t *testing.T) {
		t.Parallel()
		wav := EncodeWAV(samplesToBytes([]int16{1}), 16000, 1)
		binary.LittleEndian.PutUint16(wav[34:36], 8)
		_, _, err := WAVToPCM16Mono(wav)
		if !errors.Is(err, ErrUnsupportedSampleWidth) {
			t.Errorf("err = %v, want ErrUnsupportedSampleWidth", err)
		}
	})
}
