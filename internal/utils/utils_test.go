package utils

import (
	"context"
	"testing"
	"time"
)

func TestWaitForReturnsImmediatelyOnNonPositiveDuration(t *testing.T) {
	origSleep := sleep
	called := false
	sleep = func(time.Duration) { called = true }
	defer func() { sleep = origSleep }()

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if called {
		t.Fatal("sleep should not be called for a non-positive duration")
	}
}

func TestWaitForHonorsContextCancellation(t *testing.T) {
	origSleep := sleep
	blocked := make(chan struct{})
	sleep = func(time.Duration) { <-blocked }
	defer func() {
		close(blocked)
		sleep = origSleep
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestBackoffDelayGrowsAndRespectsCap(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}

	if got := b.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("attempt 0: expected 100ms, got %v", got)
	}
	if got := b.Delay(1); got != 200*time.Millisecond {
		t.Fatalf("attempt 1: expected 200ms, got %v", got)
	}
	if got := b.Delay(10); got != 500*time.Millisecond {
		t.Fatalf("attempt 10: expected cap of 500ms, got %v", got)
	}
}

func TestBackoffZeroValueProducesNoDelay(t *testing.T) {
	t.Parallel()

	var b Backoff
	if got := b.Delay(3); got != 0 {
		t.Fatalf("expected zero delay, got %v", got)
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		got := b.Delay(0)
		if got < 100*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside expected range", got)
		}
	}
}
