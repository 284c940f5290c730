package whisper

import "testing"

func TestPCMToFloat32(t *testing.T) {
	t.Parallel()

	// Samples: 0, max positive, min negative.
	pcm := []byte{
		0x00, 0x00,
		0xFF, 0x7F,
		0x00, 0x80,
	}
	got := pcmToFloat32(pcm)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != 0 {
		t.Errorf("sample 0 = %v, want 0", got[0])
	}
	if got[1] != 32767.0/32768.0 {
		t.Errorf("sample 1 = %v, want %v", got[1], 32767.0/32768.0)
	}
	if got[2] != -1 {
		t.Errorf("sample 2 = %v, want -1", got[2])
	}
}

func TestPCMToFloat32IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	got := pcmToFloat32([]byte{0x00, 0x00, 0x42})
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}
