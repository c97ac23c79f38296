package mind

import (
	"math"
	"time"
)

const (
	initialEnergy   = 0.8
	minEnergy       = 0.1
	energyPerMinute = 0.01
	streakWindow    = 10 * time.Minute
)

// EnergyState is a soft per-group limiter: replies drain it, time refills it.
type EnergyState struct {
	Energy      float64 `json:"energy"`
	LastReplyTS float64 `json:"last_reply_ts"` // epoch seconds, 0 if never replied
	Streak      int     `json:"streak"`
}

func newEnergyState() EnergyState {
	return EnergyState{Energy: initialEnergy}
}

func (e EnergyState) lastReply() time.Time {
	if e.LastReplyTS <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(e.LastReplyTS)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// SinceReply returns the time since the last reply and false if there was none.
func (e EnergyState) SinceReply(now time.Time) (time.Duration, bool) {
	last := e.lastReply()
	if last.IsZero() {
		return 0, false
	}
	dt := now.Sub(last)
	if dt < 0 {
		dt = 0
	}
	return dt, true
}

// Effective is the energy at now including recovery since the last reply.
// Recovery is derived on read and never stored.
func (e EnergyState) Effective(now time.Time) float64 {
	v := e.Energy
	if dt, ok := e.SinceReply(now); ok {
		v += energyPerMinute * dt.Minutes()
	}
	return clamp(v, minEnergy, 1)
}

// ActiveStreak is the reply streak, which lapses after a quiet period.
func (e EnergyState) ActiveStreak(now time.Time) int {
	dt, ok := e.SinceReply(now)
	if !ok || dt > streakWindow {
		return 0
	}
	return e.Streak
}

// afterReply applies one bot reply of length runes at now.
func (e EnergyState) afterReply(length int, now time.Time) EnergyState {
	cost := min(0.2, float64(length)/500)
	e.Energy = max(minEnergy, e.Effective(now)-cost)
	e.LastReplyTS = float64(now.UnixNano()) / 1e9
	e.Streak++
	return e
}
