package mind

import (
	"sync"
	"time"
)

// LLMRateLimiter enforces global and per-group limits on background LLM calls.
type LLMRateLimiter struct {
	mu            sync.Mutex
	perMinute     []time.Time
	perHour       []time.Time
	maxPerMinute  int
	maxPerHour    int
	groupCooldown time.Duration
	lastByGroup   map[string]time.Time
}

// DefaultLLMLimiter returns a limiter: 6/min, 30/hour, 20s per-group cooldown.
func DefaultLLMLimiter() *LLMRateLimiter {
	return NewLLMRateLimiter(6, 30, 20*time.Second)
}

func NewLLMRateLimiter(perMinute, perHour int, groupCooldown time.Duration) *LLMRateLimiter {
	return &LLMRateLimiter{
		perMinute:     make([]time.Time, 0, 32),
		perHour:       make([]time.Time, 0, 64),
		maxPerMinute:  perMinute,
		maxPerHour:    perHour,
		groupCooldown: groupCooldown,
		lastByGroup:   make(map[string]time.Time),
	}
}

// Allow returns true if an LLM call is allowed for this group at now.
func (l *LLMRateLimiter) Allow(groupID string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastByGroup[groupID]; ok && now.Sub(last) < l.groupCooldown {
		return false
	}

	l.perMinute = keepAfter(l.perMinute, now.Add(-time.Minute))
	l.perHour = keepAfter(l.perHour, now.Add(-time.Hour))

	if l.maxPerMinute > 0 && len(l.perMinute) >= l.maxPerMinute {
		return false
	}
	if l.maxPerHour > 0 && len(l.perHour) >= l.maxPerHour {
		return false
	}
	return true
}

// Record records that an LLM call was made for groupID at now.
func (l *LLMRateLimiter) Record(groupID string, now time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perMinute = append(l.perMinute, now)
	l.perHour = append(l.perHour, now)
	l.lastByGroup[groupID] = now
}

func keepAfter(ts []time.Time, cut time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			out = append(out, t)
		}
	}
	return out
}
