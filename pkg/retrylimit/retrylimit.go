// Package retrylimit paces calls to a remote API and retries the ones that
// fail for transient reasons.
//
// An AdaptiveLimiter speeds up while calls succeed and backs off when the
// server pushes back. WithRetryConfig runs a call under such a limiter with
// exponential backoff, honoring Retry-After hints carried by the error.
//
//	lim := retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5)
//	err := retrylimit.WithRetry(ctx, func() error { return call(ctx) }, lim)
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// quietPeriod is how long after the last push back the limiter stays put.
const quietPeriod = 10 * time.Second

// AdaptiveLimiter is a token bucket whose rate moves between min and max.
// Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter starts at initial requests per second. Each success
// outside the quiet period adds stepUp, each push back multiplies the rate
// by stepDown. Rates below one per second are raised to one.
func NewAdaptiveLimiter(initial, lo, hi rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	lo = max(lo, 1)
	hi = max(hi, lo)
	initial = min(max(initial, lo), hi)
	if stepDown <= 0 || stepDown >= 1 {
		stepDown = 0.5
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burstFor(initial)),
		minLimit: lo,
		maxLimit: hi,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until the next call may start.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success records a successful call.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > quietPeriod {
		a.setLimit(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited records a push back from the server.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.setLimit(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) setLimit(l rate.Limit) {
	l = min(max(l, a.minLimit), a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burstFor(l))
	}
}

func burstFor(l rate.Limit) int { return max(1, int(l)) }

// HTTPError is implemented by errors that carry an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// RetryAfterError is implemented by errors that know when the server wants
// to be called again. A zero duration means no hint.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// ErrMaxAttempts is returned, wrapping the last failure, when every attempt failed.
var ErrMaxAttempts = errors.New("retrylimit: max attempts exceeded")

// FatalError stops the retry loop at once.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// RetryConfig controls WithRetryConfig.
type RetryConfig struct {
	MaxAttempts    int           // 0 means the safety cap of 100
	InitialDelay   time.Duration // first backoff
	MaxDelay       time.Duration // cap for backoff and Retry-After hints
	RateLimitDelay time.Duration // minimum pause after a 429
	Multiplier     float64
	Jitter         bool            // add up to 25% to each backoff
	Logger         *zerolog.Logger // nil logs through the global logger
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    100,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 100 * time.Millisecond,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// WithRetry is WithRetryConfig with DefaultRetryConfig.
func WithRetry(ctx context.Context, fn func() error, lim *AdaptiveLimiter) error {
	return WithRetryConfig(ctx, fn, lim, DefaultRetryConfig())
}

// WithRetryConfig calls fn until it succeeds, returns a FatalError, ctx ends
// or the attempts run out. 429 and 5xx answers slow lim down; lim may be nil.
func WithRetryConfig(ctx context.Context, fn func() error, lim *AdaptiveLimiter, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 100
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	logger := &log.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	backoff := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				logger.Debug().Str("component", "retry").Int("attempt", attempt).Msg("succeeded after retry")
			}
			return nil
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		limited, server := isRateLimitError(err), isServerError(err)
		if lim != nil && (limited || server) {
			lim.RateLimited()
		}

		var pause time.Duration
		if limited {
			pause = max(cfg.RateLimitDelay, retryAfter(err))
		} else {
			pause = max(backoff, retryAfter(err))
			if cfg.Jitter {
				pause = addJitter(pause)
			}
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if cfg.MaxDelay > 0 {
				backoff = min(backoff, cfg.MaxDelay)
			}
		}
		if cfg.MaxDelay > 0 {
			pause = min(pause, cfg.MaxDelay)
		}

		logger.Warn().Str("component", "retry").Int("attempt", attempt).Err(err).
			Bool("rate_limited", limited).Bool("server_error", server).Dur("sleep", pause).Msg("call failed, retrying")

		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, cfg.MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func addJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/4)))
}

func retryAfter(err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return max(0, ra.RetryAfter())
	}
	return 0
}

func isRateLimitError(err error) bool {
	var he HTTPError
	return errors.As(err, &he) && he.StatusCode() == http.StatusTooManyRequests
}

func isServerError(err error) bool {
	var he HTTPError
	return errors.As(err, &he) && he.StatusCode() >= 500 && he.StatusCode() < 600
}
