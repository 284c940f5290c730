package audio

import (
	"bytes"
	"testing"
)

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func bytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{100, -200})
	got := bytesToSamples(MonoToStereo(in))
	want := []int16{100, 100, -200, -200}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMonoAverages(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{100, 300, -32768, -32768})
	got := bytesToSamples(StereoToMono(in))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 200 {
		t.Errorf("sample 0 = %d, want 200", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("sample 1 = %d, want -32768", got[1])
	}
}

func TestDownmixToMono(t *testing.T) {
	t.Parallel()

	t.Run("mono passthrough", func(t *testing.T) {
		t.Parallel()
		in := samplesToBytes([]int16{1, 2, 3})
		if !bytes.Equal(DownmixToMono(in, 1), in) {
			t.Error("mono input modified")
		}
	})

	t.Run("four channels", func(t *testing.T) {
		t.Parallel()
		in := samplesToBytes([]int16{100, 200, 300, 400})
		got := bytesToSamples(DownmixToMono(in, 4))
		if len(got) != 1 || got[0] != 250 {
			t.Errorf("got %v, want [250]", got)
		}
	})
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate passthrough", func(t *testing.T) {
		t.Parallel()
		in := samplesToBytes([]int16{1, 2, 3})
		if !bytes.Equal(ResampleMono16(in, 16000, 16000), in) {
			t.Error("same-rate input modified")
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		t.Parallel()
		in := samplesToBytes(make([]int16, 320)) // 10 ms at 32 kHz
		got := ResampleMono16(in, 32000, 16000)
		if len(got) != 320 {
			t.Errorf("len = %d, want 320", len(got))
		}
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		t.Parallel()
		in := samplesToBytes([]int16{0, 1000})
		got := bytesToSamples(ResampleMono16(in, 8000, 16000))
		if len(got) != 4 {
			t.Fatalf("len = %d, want 4", len(got))
		}
		if got[0] != 0 {
			t.Errorf("sample 0 = %d, want 0", got[0])
		}
		if got[1] != 500 {
			t.Errorf("sample 1 = %d, want 500", got[1])
		}
	})
}

func TestSilence(t *testing.T) {
	t.Parallel()

	if got := len(Silence(100, 16000, 1)); got != 3200 {
		t.Errorf("100 ms mono = %d bytes, want 3200", got)
	}
	if got := len(Silence(100, 16000, 2)); got != 6400 {
		t.Errorf("100 ms stereo = %d bytes, want 6400", got)
	}
	if Silence(0, 16000, 1) != nil {
		t.Error("0 ms should be nil")
	}
}

func TestAlignToSamples(t *testing.T) {
	t.Parallel()

	if got := AlignToSamples(481); got != 480 {
		t.Errorf("AlignToSamples(481) = %d, want 480", got)
	}
	if got := AlignToSamples(480); got != 480 {
		t.Errorf("AlignToSamples(480) = %d, want 480", got)
	}
}
