package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", cfg.MaxDelay)
	}
}

func TestConnectConfig(t *testing.T) {
	if got := ConnectConfig(2).MaxRetries; got != 2 {
		t.Errorf("expected MaxRetries=2, got %d", got)
	}
	if got := ConnectConfig(-4).MaxRetries; got != 0 {
		t.Errorf("expected negative retries to clamp to 0, got %d", got)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	callCount := 0
	expected := errors.New("persistent error")
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return expected
	})

	if !errors.Is(err, expected) {
		t.Errorf("expected last error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (initial + 2 retries), got %d", callCount)
	}
}

func TestDo_ZeroRetriesIsSingleAttempt(t *testing.T) {
	callCount := 0
	_ = Do(context.Background(), fastConfig(0), func() error {
		callCount++
		return errors.New("fail")
	})
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	callCount := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		callCount++
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", callCount)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	callCount := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", errors.New("dial tcp: i/o timeout")
		}
		return "handle", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "handle" {
		t.Errorf("expected result 'handle', got %q", got)
	}
}

func TestDoWithResult_NilConfig(t *testing.T) {
	got, err := DoWithResult(context.Background(), nil, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("expected (42, nil), got (%d, %v)", got, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"too many clients", errors.New("FATAL: sorry, too many clients already"), true},
		{"starting up", errors.New("FATAL: the database system is starting up"), true},
		{"wrapped timeout", fmt.Errorf("open: %w", errors.New("i/o timeout")), true},
		{"auth failure", errors.New("password authentication failed for user \"app\""), false},
		{"syntax error", errors.New("syntax error at or near \"SELEC\""), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("connect: %w", context.DeadlineExceeded), false},
		{"configuration", &apperrors.ConfigurationError{Connection: "main", Reason: "missing"}, false},
		{"unsupported", &apperrors.UnsupportedOperationError{Connection: "x", Driver: "oracle", Operation: "connect"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDoIfRetryable_StopsOnPermanentError(t *testing.T) {
	callCount := 0
	_, err := DoIfRetryable(context.Background(), fastConfig(5), func() (int, error) {
		callCount++
		return 0, errors.New("password authentication failed")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected permanent error to stop after 1 call, got %d", callCount)
	}
}

func TestDoIfRetryable_RetriesTransientError(t *testing.T) {
	callCount := 0
	_, err := DoIfRetryable(context.Background(), fastConfig(2), func() (int, error) {
		callCount++
		return 0, errors.New("connection reset by peer")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}
