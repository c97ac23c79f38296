package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type codeErr int

func (c codeErr) Error() string   { return fmt.Sprintf("status %d", int(c)) }
func (c codeErr) StatusCode() int { return int(c) }

func fastConfig(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestWithRetryConfig(t *testing.T) {
	sentinel := errors.New("boom")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", errs: []error{nil}, wantCalls: 1},
		{name: "server error then success", errs: []error{codeErr(503), nil}, wantCalls: 2},
		{name: "rate limited then success", errs: []error{codeErr(429), nil}, wantCalls: 2},
		{name: "fatal stops immediately", errs: []error{&FatalError{Err: sentinel}}, wantCalls: 1, wantErr: sentinel},
		{name: "exhausted", errs: []error{sentinel, sentinel, sentinel}, wantCalls: 3, wantErr: ErrMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetryConfig(context.Background(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			}, NewAdaptiveLimiter(100, 1, 100, 1, 0.5), fastConfig(len(tt.errs)))

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWrappedFatalErrorIsDetected(t *testing.T) {
	calls := 0
	err := WithRetryConfig(context.Background(), func() error {
		calls++
		return fmt.Errorf("wrapped: %w", &FatalError{Err: errors.New("bad request")})
	}, nil, fastConfig(5))
	if calls != 1 || err == nil {
		t.Fatalf("calls = %d err = %v; want a single failing call", calls, err)
	}
}

func TestAdaptiveLimiterBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 4, 1, 0.5)
	lim.RateLimited()
	if got := lim.CurrentLimit(); got != 2 {
		t.Fatalf("after one failure limit = %v, want 2", got)
	}
	lim.RateLimited()
	lim.RateLimited()
	if got := lim.CurrentLimit(); got != 1 {
		t.Fatalf("limit must not drop below min, got %v", got)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, func() error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type waitErr struct {
	codeErr
	wait time.Duration
}

func (w waitErr) RetryAfter() time.Duration { return w.wait }

func TestRetryAfterIsHonoredAndCapped(t *testing.T) {
	tests := []struct {
		name     string
		wait     time.Duration
		atLeast  time.Duration
		atMost   time.Duration
		maxDelay time.Duration
	}{
		{name: "hint", wait: 30 * time.Millisecond, atLeast: 30 * time.Millisecond, atMost: time.Second, maxDelay: 100 * time.Millisecond},
		{name: "capped", wait: time.Hour, atLeast: 0, atMost: time.Second, maxDelay: 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig(2)
			cfg.MaxDelay = tt.maxDelay
			calls := 0
			start := time.Now()
			err := WithRetryConfig(context.Background(), func() error {
				calls++
				if calls == 1 {
					return waitErr{codeErr: 429, wait: tt.wait}
				}
				return nil
			}, nil, cfg)
			elapsed := time.Since(start)
			if err != nil || calls != 2 {
				t.Fatalf("calls = %d err = %v", calls, err)
			}
			if elapsed < tt.atLeast || elapsed > tt.atMost {
				t.Fatalf("elapsed %v, want between %v and %v", elapsed, tt.atLeast, tt.atMost)
			}
		})
	}
}
