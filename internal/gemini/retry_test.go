package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"
)

func TestCaller_RetriesTransient(t *testing.T) {
	c := &Caller{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	calls := 0
	err := c.Do(context.Background(), "detect", func(context.Context) error {
		calls++
		if calls < 3 {
			return genai.APIError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestCaller_StopsOnPermanent(t *testing.T) {
	c := &Caller{MaxAttempts: 5, BaseBackoff: time.Millisecond}
	calls := 0
	err := c.Do(context.Background(), "detect", func(context.Context) error {
		calls++
		return genai.APIError{Code: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestCaller_ContextCancelledDuringBackoff(t *testing.T) {
	c := &Caller{MaxAttempts: 3, BaseBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	err := c.Do(ctx, "detect", func(context.Context) error {
		cancel()
		return genai.APIError{Code: 429}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
