package mind

import (
	"sync"
	"time"
)

const (
	rateWindow      = 100 // timestamps kept for rate estimation
	hourlySamples   = 30  // observed days kept per hour slot
	saveEveryMsgs   = 100
	saveEveryPeriod = 10 * time.Minute
	recentUserTTL   = 10 * time.Minute
)

// FrequencySnapshot is the persisted part of a FrequencyControl.
type FrequencySnapshot struct {
	Threshold float64       `json:"threshold"`
	Messages  [24][]float64 `json:"hourly_messages"`
	Users     [24][]float64 `json:"hourly_users"`
}

// FrequencyStats is a read-only view used for status queries.
type FrequencyStats struct {
	Focus              float64
	AtBoost            float64
	EffectiveFocus     float64
	MessagesLastMinute int
	ActiveUsers        int
	Threshold          float64
}

// FrequencyControl models one group's message rate against its usual rate for
// the hour of day and keeps a smoothed focus value plus a decaying mention boost.
type FrequencyControl struct {
	mu           sync.Mutex
	atBoostValue float64
	threshold    float64

	stamps []time.Time
	users  map[string]time.Time

	focus      float64
	atBoost    float64
	lastUpdate time.Time

	msgSamples  [24][]float64
	userSamples [24][]float64
	bucket      string // current date+hour being counted
	bucketHour  int
	bucketMsgs  int
	bucketUsers map[string]struct{}

	unsaved  int
	lastSave time.Time
}

// NewFrequencyControl creates a control with the given mention boost and trigger threshold.
func NewFrequencyControl(atBoostValue, threshold float64) *FrequencyControl {
	d := DefaultConfig()
	if atBoostValue <= 0 || atBoostValue > 1 {
		atBoostValue = d.AtBoostValue
	}
	if threshold < 0 || threshold > 1 {
		threshold = d.HeartbeatThreshold
	}
	return &FrequencyControl{
		atBoostValue: atBoostValue,
		threshold:    threshold,
		stamps:       make([]time.Time, 0, rateWindow),
		users:        make(map[string]time.Time),
		bucketUsers:  make(map[string]struct{}),
	}
}

// UpdateMessageRate records one message from userID at ts and recomputes focus.
func (f *FrequencyControl) UpdateMessageRate(ts time.Time, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.stamps) == rateWindow {
		copy(f.stamps, f.stamps[1:])
		f.stamps = f.stamps[:rateWindow-1]
	}
	f.stamps = append(f.stamps, ts)

	if userID != "" {
		f.users[userID] = ts
	}
	for id, seen := range f.users {
		if ts.Sub(seen) > recentUserTTL {
			delete(f.users, id)
		}
	}

	f.countHourly(ts, userID)
	f.unsaved++
	f.update(ts)
}

// BoostOnAt marks that the bot was just addressed.
func (f *FrequencyControl) BoostOnAt() {
	f.mu.Lock()
	f.atBoost = f.atBoostValue
	f.mu.Unlock()
}

// Focus recomputes and returns the smoothed focus.
func (f *FrequencyControl) Focus(now time.Time) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update(now)
	return f.focus
}

// ShouldTrigger reports whether ambient activity warrants a heartbeat attempt.
func (f *FrequencyControl) ShouldTrigger(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update(now)

	if f.atBoost >= 0.8 {
		return true
	}
	if f.countSince(now.Add(-time.Minute)) >= 5 {
		return true
	}
	return f.focus+f.atBoost > f.threshold*1.2
}

// SetThreshold changes the trigger threshold, clamped to [0,1].
func (f *FrequencyControl) SetThreshold(v float64) {
	f.mu.Lock()
	f.threshold = clamp01(v)
	f.mu.Unlock()
}

func (f *FrequencyControl) Threshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

// MessagesLastMinute counts recorded messages in the minute before now.
func (f *FrequencyControl) MessagesLastMinute(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countSince(now.Add(-time.Minute))
}

// Peek returns the current values without advancing the model.
func (f *FrequencyControl) Peek(now time.Time) FrequencyStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, seen := range f.users {
		if now.Sub(seen) <= recentUserTTL {
			active++
		}
	}
	return FrequencyStats{
		Focus:              f.focus,
		AtBoost:            f.atBoost,
		EffectiveFocus:     clamp01(f.focus + f.atBoost),
		MessagesLastMinute: f.countSince(now.Add(-time.Minute)),
		ActiveUsers:        active,
		Threshold:          f.threshold,
	}
}

// HourlyBaseline returns the expected messages and users per hour for hour h.
func (f *FrequencyControl) HourlyBaseline(h int) (messages, users float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hourlyMessages(h), f.hourlyUsers(h)
}

// NeedsSave reports whether enough has changed since the last snapshot.
func (f *FrequencyControl) NeedsSave(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsaved >= saveEveryMsgs {
		return true
	}
	return f.unsaved > 0 && now.Sub(f.lastSave) >= saveEveryPeriod
}

// Snapshot returns the persistable state and marks it saved.
func (f *FrequencyControl) Snapshot(now time.Time) FrequencySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := FrequencySnapshot{Threshold: f.threshold}
	for h := 0; h < 24; h++ {
		snap.Messages[h] = append([]float64(nil), f.msgSamples[h]...)
		snap.Users[h] = append([]float64(nil), f.userSamples[h]...)
	}
	f.unsaved = 0
	f.lastSave = now
	return snap
}

// Restore loads a snapshot taken by Snapshot.
func (f *FrequencyControl) Restore(snap FrequencySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = clamp01(snap.Threshold)
	for h := 0; h < 24; h++ {
		f.msgSamples[h] = lastN(snap.Messages[h], hourlySamples)
		f.userSamples[h] = lastN(snap.Users[h], hourlySamples)
	}
}

// update advances focus and decays the mention boost. Caller holds mu.
func (f *FrequencyControl) update(now time.Time) {
	if f.lastUpdate.IsZero() {
		f.lastUpdate = now
		return
	}
	dt := now.Sub(f.lastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}
	f.lastUpdate = now

	current := float64(f.countSince(now.Add(-time.Minute)))
	baseline := f.hourlyMessages(now.Hour()) / 60

	var target float64
	if current > baseline*1.5 {
		target = min(1, f.focus+0.1*dt/60)
	} else {
		target = max(0, f.focus-0.05*dt/60)
	}
	f.focus = clamp01(f.focus + (target-f.focus)*0.1)

	f.atBoost *= 0.95
	if f.atBoost < 0.01 {
		f.atBoost = 0
	}
}

func (f *FrequencyControl) countSince(cut time.Time) int {
	n := 0
	for i := len(f.stamps) - 1; i >= 0; i-- {
		if !f.stamps[i].After(cut) {
			break
		}
		n++
	}
	return n
}

// countHourly accumulates the current date+hour bucket and closes it into
// the hour slot's samples when the hour changes.
func (f *FrequencyControl) countHourly(ts time.Time, userID string) {
	key := ts.Format("2006-01-02T15")
	if key != f.bucket {
		if f.bucket != "" && f.bucketMsgs > 0 {
			f.msgSamples[f.bucketHour] = pushCapped(f.msgSamples[f.bucketHour], float64(f.bucketMsgs), hourlySamples)
			f.userSamples[f.bucketHour] = pushCapped(f.userSamples[f.bucketHour], float64(len(f.bucketUsers)), hourlySamples)
		}
		f.bucket = key
		f.bucketHour = ts.Hour()
		f.bucketMsgs = 0
		clear(f.bucketUsers)
	}
	f.bucketMsgs++
	if userID != "" {
		f.bucketUsers[userID] = struct{}{}
	}
}

func (f *FrequencyControl) hourlyMessages(h int) float64 {
	if s := f.msgSamples[h]; len(s) > 0 {
		return mean(s)
	}
	return defaultHourlyMessages(h)
}

func (f *FrequencyControl) hourlyUsers(h int) float64 {
	if s := f.userSamples[h]; len(s) > 0 {
		return mean(s)
	}
	return defaultHourlyMessages(h) * 0.7
}

// defaultHourlyMessages is the time-of-day curve used before any hour slot
// has observations: busier around commutes, meals and evenings.
func defaultHourlyMessages(h int) float64 {
	switch {
	case h >= 7 && h <= 9:
		return 35
	case h >= 11 && h <= 13:
		return 45
	case h >= 17 && h <= 19:
		return 52.5
	case h >= 20 && h <= 23:
		return 60
	case h >= 0 && h <= 2:
		return 17.5
	default:
		return 14
	}
}

func pushCapped(s []float64, v float64, n int) []float64 {
	s = append(s, v)
	if len(s) > n {
		s = append([]float64(nil), s[len(s)-n:]...)
	}
	return s
}

func lastN(s []float64, n int) []float64 {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]float64(nil), s...)
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}
