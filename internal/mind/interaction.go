package mind

import (
	"time"

	"github.com/keshon/heartflow/internal/history"
)

// Gate is the interaction manager's verdict for one message.
type Gate struct {
	Mode     Mode
	Activity float64
	// Skip means the message is observed only.
	Skip bool
	// FocusTarget means the group is in focus on the sender. It only eases
	// the reply threshold; the message is still scored.
	FocusTarget bool
}

// Interaction decides the mode a group is in and keeps its bookkeeping.
type Interaction struct {
	cfg Config
}

func NewInteraction(cfg Config) *Interaction {
	return &Interaction{cfg: cfg.Normalize()}
}

// ActivityLevel is messages in the last five minutes over ten, capped at 1.
func ActivityLevel(hist []history.Record, now time.Time) float64 {
	return min(1, float64(countSince(hist, now.Add(-5*time.Minute)))/10)
}

// Evaluate returns the gate for ev, ending an expired focus first. A quiet
// group is observed even while a focus is running; the focus itself is kept.
func (in *Interaction) Evaluate(g *GroupState, ev Event, hist []history.Record, now time.Time) Gate {
	activity := ActivityLevel(hist, now)
	var gate Gate
	g.Update(func(r *GroupRecord) {
		in.expireFocus(&r.Interaction, now)
		st := &r.Interaction
		switch {
		case activity < in.cfg.ObservationThreshold:
			if st.Mode != ModeFocus {
				st.Mode = ModeObservation
			}
			gate = Gate{Mode: ModeObservation, Skip: true}
		case st.Mode == ModeFocus:
			gate = Gate{Mode: ModeFocus, FocusTarget: ev.SenderID == st.FocusTarget}
		default:
			st.Mode = ModeNormal
			gate = Gate{Mode: ModeNormal}
		}
	})
	gate.Activity = activity
	return gate
}

// EnterFocus puts the group in focus on userID.
func (in *Interaction) EnterFocus(g *GroupState, userID string, now time.Time) {
	g.Update(func(r *GroupRecord) {
		r.Interaction.Mode = ModeFocus
		r.Interaction.FocusTarget = userID
		r.Interaction.FocusSince = now
		r.Interaction.FocusReplies = 0
	})
}

// Record updates bookkeeping after a decision cycle. A cycle without a reply
// resets the consecutive reply counter.
func (in *Interaction) Record(g *GroupState, userID string, replied bool, now time.Time) (consecutiveReset bool) {
	g.Update(func(r *GroupRecord) {
		st := &r.Interaction
		st.LastActivity = now
		st.Conversations++
		if !replied {
			consecutiveReset = r.Consecutive > 0
			r.Consecutive = 0
			return
		}
		if st.Mode == ModeFocus && userID == st.FocusTarget {
			st.FocusReplies++
		}
		in.expireFocus(st, now)
	})
	return consecutiveReset
}

func (in *Interaction) expireFocus(st *InteractionState, now time.Time) {
	if st.Mode != ModeFocus {
		return
	}
	if now.Sub(st.FocusSince) > in.cfg.FocusTimeout || st.FocusReplies >= in.cfg.MaxFocusResponses {
		st.Mode = ModeNormal
		st.FocusTarget = ""
		st.FocusReplies = 0
		st.FocusSince = time.Time{}
	}
}
