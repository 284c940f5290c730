package resilience

import (
	"context"
	"errors"
	"testing"

	sttmock "github.com/vi-lab/vivoice/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{Text: "hello world"}
	secondary := &sttmock.Transcriber{Text: "should not be used"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper-native", secondary)

	text, err := fb.Transcribe(context.Background(), make([]byte, 3200), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if len(primary.Calls) != 1 || primary.Calls[0].Language != "en" {
		t.Fatalf("primary calls = %+v", primary.Calls)
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("whisper down")}
	secondary := &sttmock.Transcriber{Text: "from fallback"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper-native", secondary)

	text, err := fb.Transcribe(context.Background(), []byte{1, 2}, "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from fallback" {
		t.Fatalf("text = %q", text)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("down")}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := fb.Transcribe(context.Background(), []byte{1}, "en")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_OpenBreakerSkipsDeadBackend(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("connection refused")}
	secondary := &sttmock.Transcriber{Text: "ok"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("whisper-native", secondary)

	for i := 0; i < 5; i++ {
		if _, err := fb.Transcribe(context.Background(), []byte{1}, "en"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := len(primary.Calls); got != 1 {
		t.Fatalf("primary called %d times after breaker opened, want 1", got)
	}
}
