package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroupPrefersPrimary(t *testing.T) {
	fg := NewFallbackGroup("remote", "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("native", "native")

	var served string
	err := fg.Execute(func(v string) error {
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "remote" {
		t.Fatalf("served by %q, want remote", served)
	}
}

func TestFallbackGroupFailsOver(t *testing.T) {
	fg := NewFallbackGroup("remote", "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("native", "native")

	var served string
	err := fg.Execute(func(v string) error {
		if v == "remote" {
			return errBackendDown
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "native" {
		t.Fatalf("served by %q, want native", served)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	fg := NewFallbackGroup("remote", "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("native", "native")

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("remote", "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("native", "native")

	// Fail the primary until its breaker opens.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "remote" {
				return errBackendDown
			}
			return nil
		})
	}

	var served string
	err := fg.Execute(func(v string) error {
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "native" {
		t.Fatalf("served by %q, want native while the remote breaker is open", served)
	}
}

func TestExecuteWithResultReturnsPrimaryValue(t *testing.T) {
	fg := NewFallbackGroup(16000, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("native", 22050)

	got, err := ExecuteWithResult(fg, func(rate int) (string, error) {
		if rate == 16000 {
			return "remote transcript", nil
		}
		return "native transcript", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "remote transcript" {
		t.Fatalf("result = %q, want remote transcript", got)
	}
}

func TestExecuteWithResultFailsOver(t *testing.T) {
	fg := NewFallbackGroup(16000, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("native", 22050)

	got, err := ExecuteWithResult(fg, func(rate int) (string, error) {
		if rate == 16000 {
			return "", errBackendDown
		}
		return "native transcript", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "native transcript" {
		t.Fatalf("result = %q, want native transcript", got)
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	fg := NewFallbackGroup(16000, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
