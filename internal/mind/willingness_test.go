package mind

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/history"
)

func newTestWillingness(airReading bool) *Willingness {
	cfg := DefaultConfig()
	cfg.AirReadingEnabled = airReading
	return NewWillingness(cfg, NewStore(nil, zerolog.Nop()))
}

func userRec(id, user, text string, at time.Time) history.Record {
	return history.Record{ID: id, Role: history.RoleUser, UserID: user, Content: text, At: at}
}

func botRec(text string, at time.Time) history.Record {
	return history.Record{Role: history.RoleAssistant, Content: text, At: at}
}

func TestCalculateQuietNeutralMessage(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock
	ev := Event{MessageID: "m1", GroupID: "g", SenderID: "u1", Text: "ok", Timestamp: now}
	cc := ChatContext{GroupID: "g", Impression: 0.5, Energy: newEnergyState()}

	res := w.Calculate(ev, cc, now)
	if !near(res.Score, 0.175, 0.01) {
		t.Fatalf("score = %.4f, want ~0.175", res.Score)
	}
	if res.RequiresLLM || res.ShouldRespond == nil || *res.ShouldRespond {
		t.Fatalf("expected a firm no, got %+v", res)
	}
}

func TestThresholdOnMention(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock
	cc := ChatContext{Impression: 0.5, Energy: newEnergyState().afterReply(200, now.Add(-time.Second))}

	ev := Event{SenderID: "u1", Text: "hey there", Mentioned: true, Timestamp: now}
	if got := w.Threshold(ev, cc, now); !near(got, 0.35, 1e-9) {
		t.Fatalf("mention threshold = %.4f, want 0.35", got)
	}
	plain := Event{SenderID: "u1", Text: "hey there", Timestamp: now}
	if w.Threshold(plain, cc, now) <= 0.35 {
		t.Fatal("plain message threshold not above mention threshold")
	}
}

func TestThresholdIgnoresStrayAt(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock
	cc := ChatContext{Impression: 0.5, Energy: newEnergyState().afterReply(200, now.Add(-time.Second))}
	want := w.Threshold(Event{SenderID: "u1", Text: "hey there", Timestamp: now}, cc, now)

	for _, text := range []string{
		"@alice hey there",
		"hey there, mail alice@example.com",
		"hey there @bob @carol",
	} {
		t.Run(text, func(t *testing.T) {
			ev := Event{SenderID: "u1", Text: text, Timestamp: now}
			if got := w.Threshold(ev, cc, now); !near(got, want, 1e-9) {
				t.Fatalf("threshold = %.4f, want %.4f", got, want)
			}
		})
	}
}

func TestThresholdEasesForFocusTarget(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock
	ev := Event{SenderID: "u1", Text: "some chatter about builds", Timestamp: now}
	cc := ChatContext{Impression: 0.5, Energy: newEnergyState()}

	other := w.Threshold(ev, cc, now)
	cc.FocusTarget = true
	if got := w.Threshold(ev, cc, now); !near(other-got, focusEase, 1e-9) {
		t.Fatalf("focus threshold = %.4f, others get %.4f", got, other)
	}
}

func TestThresholdFallsAfterReply(t *testing.T) {
	w := newTestWillingness(false)
	replied := tenOClock
	cc := ChatContext{Impression: 0.5, Energy: newEnergyState().afterReply(100, replied)}
	ev := Event{SenderID: "u1", Text: "some chatter about builds"}

	prev := 2.0
	for _, dt := range []time.Duration{0, 5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 5 * time.Minute, 15 * time.Minute} {
		got := w.Threshold(ev, cc, replied.Add(dt))
		if got > prev {
			t.Fatalf("threshold rose from %.4f to %.4f at +%s", prev, got, dt)
		}
		prev = got
	}
}

func TestScoresStayInRange(t *testing.T) {
	now := tenOClock
	busy := make([]history.Record, 0, 40)
	for i := 0; i < 40; i++ {
		busy = append(busy, userRec("", []string{"a", "b", "c"}[i%3], "why is the build failing again?! 😠", now.Add(-time.Duration(i)*time.Second)))
	}
	tests := []struct {
		name string
		ev   Event
		cc   ChatContext
	}{
		{"empty", Event{Text: ""}, ChatContext{}},
		{"everything positive", Event{SenderID: "a", Text: "@bot how do I fix this? please help, thanks!", Mentioned: true},
			ChatContext{History: busy, Impression: 1, Energy: newEnergyState()}},
		{"everything negative", Event{SenderID: "a", Text: "why is the build failing again?! 😠"},
			ChatContext{History: busy, Impression: 0, Fatigue: 9, Energy: EnergyState{Energy: 0.1, LastReplyTS: float64(now.Unix()), Streak: 12}}},
	}
	for _, air := range []bool{false, true} {
		w := newTestWillingness(air)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res := w.Calculate(tt.ev, tt.cc, now)
				if res.Score < 0 || res.Score > 1 {
					t.Fatalf("score %.4f out of range", res.Score)
				}
				if res.Threshold < 0.05 || res.Threshold > 0.9 {
					t.Fatalf("threshold %.4f out of range", res.Threshold)
				}
				c := res.Decision.Components
				if c.GroupActivity < 0 || c.GroupActivity > 1 || c.Continuity < 0 || c.Continuity > 0.5 ||
					c.MessageType < -0.3 || c.MessageType > 0.5 || c.ContextRelevance < 0 || c.ContextRelevance > 0.3 {
					t.Fatalf("component out of range: %+v", c)
				}
				if air != res.RequiresLLM || air == (res.ShouldRespond != nil) {
					t.Fatalf("air reading %v but result %+v", air, res)
				}
			})
		}
	}
}

func TestDuplicatePenalty(t *testing.T) {
	now := tenOClock
	text := "the deployment failed on the staging server"

	tests := []struct {
		name  string
		prior []history.Record
		min   float64
		max   float64
	}{
		{"repeat of last message", []history.Record{userRec("", "u2", text, now.Add(-time.Minute))}, 0.4, 0.6},
		{"repeat of message before bot reply", []history.Record{
			userRec("", "u2", text, now.Add(-2*time.Minute)),
			botRec("try restarting the runner", now.Add(-90*time.Second)),
			userRec("", "u3", "lunch anyone", now.Add(-time.Minute)),
		}, 0.4, 0.4},
		{"old repeat", []history.Record{userRec("", "u2", text, now.Add(-10*time.Minute))}, 0, 0},
		{"different topic", []history.Record{userRec("", "u2", "who wants pizza tonight", now.Add(-time.Minute))}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DuplicatePenalty(text, tt.prior, now)
			if got < tt.min || got > tt.max {
				t.Fatalf("penalty = %v, want [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestCalculateIgnoresMessageItself(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock
	ev := Event{MessageID: "m9", SenderID: "u1", Text: "the deployment failed on the staging server", Timestamp: now}
	cc := ChatContext{History: []history.Record{ev.record()}, Impression: 0.5, Energy: newEnergyState()}

	res := w.Calculate(ev, cc, now)
	if c := res.Decision.Components; c.DuplicatePenalty != 0 || c.ContextRelevance != 0 {
		t.Fatalf("message scored against itself: %+v", c)
	}
	if res.Decision.Components.GroupActivity == 0 {
		t.Fatal("group activity should count the message")
	}
}

func TestContinuityBonus(t *testing.T) {
	now := tenOClock
	ev := Event{SenderID: "u1", Text: "and the staging runner restarted fine"}

	twoInARow := []history.Record{
		userRec("", "u1", "first", now.Add(-time.Minute)),
		userRec("", "u1", "second", now.Add(-30*time.Second)),
	}
	if got := ContinuityBonus(ev, twoInARow); !near(got, 0.2, 1e-9) {
		t.Fatalf("sender streak bonus = %v", got)
	}

	followUp := append(twoInARow, botRec("and the staging runner restarted fine", now.Add(-10*time.Second)))
	if got := ContinuityBonus(ev, followUp); got <= 0.2 || got > 0.5 {
		t.Fatalf("follow-up bonus = %v", got)
	}
	if got := ContinuityBonus(ev, nil); got != 0 {
		t.Fatalf("empty history bonus = %v", got)
	}
}

func TestMessageTypeBonus(t *testing.T) {
	tests := []struct {
		name      string
		kind      messageKind
		mentioned bool
		want      float64
	}{
		{"plain", messageKind{}, false, 0},
		{"question", messageKind{question: true}, false, 0.3},
		{"capped", messageKind{question: true, help: true, emotion: true}, true, 0.5},
		{"negative", messageKind{negative: true}, false, -0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageTypeBonus(tt.kind, tt.mentioned); !near(got, tt.want, 1e-9) {
				t.Fatalf("bonus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFatiguePenalty(t *testing.T) {
	w := newTestWillingness(false)
	if got := w.FatiguePenalty(2); !near(got, 0.1, 1e-9) {
		t.Fatalf("penalty(2) = %v", got)
	}
	if got := w.FatiguePenalty(5); got != 0.5 {
		t.Fatalf("penalty(5) = %v", got)
	}
}

func TestOnBotReplyAndReset(t *testing.T) {
	w := newTestWillingness(false)
	now := tenOClock

	st := w.OnBotReply("g", 250, now)
	if !near(st.Energy, 0.6, 1e-9) || st.Streak != 1 {
		t.Fatalf("after reply = %+v", st)
	}
	if got := w.store.Group("g").Energy(); got != st {
		t.Fatalf("stored = %+v, returned %+v", got, st)
	}

	w.ResetEnergy("g")
	if got := w.store.Group("g").Energy(); got != newEnergyState() {
		t.Fatalf("after reset = %+v", got)
	}
}
