package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), RetryConfig{Name: "test"}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		Name:           "test",
		Attempts:       3,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_RecoversOnSecondAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), RetryConfig{
		Name:           "test",
		InitialBackoff: time.Millisecond,
	}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{Name: "test"}, func(context.Context) error {
		return errors.New("never retried")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestBreaker_OpensAfterTrip(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", Trip: 2, Cooldown: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("want ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_ProbeClosesAfterCooldown(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", Trip: 1, Cooldown: time.Millisecond})
	if err := b.Do(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("want failure")
	}
	time.Sleep(5 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("breaker should be closed: %v", err)
	}
}
