package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	ttsmock "github.com/vi-lab/vivoice/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Synthesizer{WAV: []byte("RIFF-primary")}
	secondary := &ttsmock.Synthesizer{WAV: []byte("RIFF-secondary")}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("coqui-backup", secondary)

	wav, err := fb.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(wav, []byte("RIFF-primary")) {
		t.Fatalf("wav = %q", wav)
	}
	if len(primary.Calls) != 1 || primary.Calls[0].Text != "hello" {
		t.Fatalf("primary calls = %+v", primary.Calls)
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("coqui down")}
	secondary := &ttsmock.Synthesizer{WAV: []byte("RIFF-secondary")}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("coqui-backup", secondary)

	wav, err := fb.Synthesize(context.Background(), "xin chào", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(wav, []byte("RIFF-secondary")) {
		t.Fatalf("wav = %q", wav)
	}
	if len(secondary.Calls) != 1 || secondary.Calls[0].Language != "vi" {
		t.Fatalf("secondary calls = %+v", secondary.Calls)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("down")}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := fb.Synthesize(context.Background(), "hi", "en")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
