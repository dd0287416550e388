package dispatch

import (
	"testing"
	"time"

	"github.com/shaiso/Courier/internal/config"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}

	for i, want := range expected {
		got := Backoff(cfg, i+1)
		if got != want {
			t.Errorf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}

	if got := Backoff(cfg, 20); got != 10*time.Second {
		t.Errorf("expected cap at 10s, got %s", got)
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: 10 * time.Second,
		MaxDelay:     time.Minute,
		Jitter:       0.2,
	}

	for i := 0; i < 100; i++ {
		got := Backoff(cfg, 1)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("jittered delay %s outside [8s, 12s]", got)
		}
	}
}

func TestBackoffHandlesZeroAttempt(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}

	if got := Backoff(cfg, 0); got != time.Second {
		t.Errorf("expected initial delay for attempt 0, got %s", got)
	}
}
