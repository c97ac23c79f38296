package mind

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/history"
)

func chatter(n int, now time.Time) []history.Record {
	recs := make([]history.Record, 0, n)
	for i := n; i > 0; i-- {
		recs = append(recs, userRec("", "u"+string(rune('a'+i%5)), "msg", now.Add(-time.Duration(i)*10*time.Second)))
	}
	return recs
}

func TestEvaluateModes(t *testing.T) {
	now := tenOClock
	in := NewInteraction(DefaultConfig())
	store := NewStore(nil, zerolog.Nop())

	t.Run("quiet group is observed", func(t *testing.T) {
		g := store.Group("quiet")
		gate := in.Evaluate(g, Event{SenderID: "u1"}, chatter(1, now), now)
		if gate.Mode != ModeObservation || !gate.Skip {
			t.Fatalf("gate = %+v", gate)
		}
		if g.Snapshot().Interaction.Mode != ModeObservation {
			t.Fatal("mode not stored")
		}
	})

	t.Run("active group is normal", func(t *testing.T) {
		g := store.Group("active")
		gate := in.Evaluate(g, Event{SenderID: "u1"}, chatter(3, now), now)
		if gate.Mode != ModeNormal || gate.Skip || gate.FocusTarget {
			t.Fatalf("gate = %+v", gate)
		}
		if !near(gate.Activity, 0.3, 1e-9) {
			t.Fatalf("activity = %v", gate.Activity)
		}
	})

	t.Run("focus marks the target", func(t *testing.T) {
		g := store.Group("focus")
		in.EnterFocus(g, "u1", now)
		if gate := in.Evaluate(g, Event{SenderID: "u1"}, chatter(3, now), now); gate.Mode != ModeFocus || !gate.FocusTarget || gate.Skip {
			t.Fatalf("target gate = %+v", gate)
		}
		if gate := in.Evaluate(g, Event{SenderID: "u2"}, chatter(3, now), now); gate.Mode != ModeFocus || gate.FocusTarget {
			t.Fatalf("bystander gate = %+v", gate)
		}
	})

	t.Run("quiet group is observed during focus", func(t *testing.T) {
		g := store.Group("quiet-focus")
		in.EnterFocus(g, "u1", now)
		gate := in.Evaluate(g, Event{SenderID: "u1"}, chatter(1, now), now)
		if gate.Mode != ModeObservation || !gate.Skip || gate.FocusTarget {
			t.Fatalf("gate = %+v", gate)
		}
		if st := g.Snapshot().Interaction; st.Mode != ModeFocus || st.FocusTarget != "u1" {
			t.Fatalf("focus lost: %+v", st)
		}
	})

	t.Run("focus times out", func(t *testing.T) {
		g := store.Group("stale-focus")
		in.EnterFocus(g, "u1", now)
		later := now.Add(6 * time.Minute)
		gate := in.Evaluate(g, Event{SenderID: "u1"}, chatter(5, later), later)
		if gate.Mode != ModeNormal || gate.FocusTarget {
			t.Fatalf("gate = %+v", gate)
		}
		if g.Snapshot().Interaction.FocusTarget != "" {
			t.Fatal("focus target kept")
		}
	})
}

func TestFocusEndsAfterMaxReplies(t *testing.T) {
	now := tenOClock
	cfg := DefaultConfig()
	cfg.MaxFocusResponses = 2
	in := NewInteraction(cfg)
	g := NewStore(nil, zerolog.Nop()).Group("g")

	in.EnterFocus(g, "u1", now)
	in.Record(g, "u1", true, now)
	if g.Snapshot().Interaction.Mode != ModeFocus {
		t.Fatal("focus ended early")
	}
	in.Record(g, "u1", true, now)
	if st := g.Snapshot().Interaction; st.Mode != ModeNormal || st.Conversations != 2 {
		t.Fatalf("state = %+v", st)
	}
}

func TestRecordWithoutReplyResetsConsecutive(t *testing.T) {
	now := tenOClock
	in := NewInteraction(DefaultConfig())
	g := NewStore(nil, zerolog.Nop()).Group("g")

	if in.Record(g, "u1", false, now) {
		t.Fatal("reset reported with nothing to reset")
	}
	g.Update(func(r *GroupRecord) { r.Consecutive = 2 })
	if !in.Record(g, "u1", false, now) {
		t.Fatal("reset not reported")
	}
	if g.Consecutive() != 0 {
		t.Fatalf("consecutive = %d", g.Consecutive())
	}
	g.Update(func(r *GroupRecord) { r.Consecutive = 2 })
	in.Record(g, "u1", true, now)
	if g.Consecutive() != 2 {
		t.Fatal("reply cycle touched the counter")
	}
}
