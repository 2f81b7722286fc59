package util

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should pass immediately: %v", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		log := NewLogger(level, "json")
		if log == nil {
			t.Fatalf("NewLogger(%q) returned nil", level)
		}
	}
	if log := NewLogger("info", "text"); log == nil {
		t.Fatal("NewLogger text format returned nil")
	}
	if !NewLogger("debug", "json").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug logger should enable debug level")
	}
	if NewLogger("warn", "json").Enabled(context.Background(), slog.LevelInfo) {
		t.Error("warn logger should not enable info level")
	}
}
