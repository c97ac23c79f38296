package mind

import "time"

// GroupStatus is the operator view of one group.
type GroupStatus struct {
	FlowStats
	Running          bool    `json:"running"`
	Mode             Mode    `json:"mode"`
	Energy           float64 `json:"energy"`
	Streak           int     `json:"streak"`
	Consecutive      int     `json:"consecutive"`
	ProactivePending bool    `json:"proactive_pending"`
	TurnOwner        string  `json:"turn_owner,omitempty"`
}

// Status returns the group's status. It loads nothing and changes nothing.
func (e *Engine) Status(groupID string) GroupStatus {
	now := e.clock()
	st := GroupStatus{
		FlowStats:        e.registry.Stats(groupID),
		Running:          e.registry.Running(groupID),
		ProactivePending: e.proactive.Pending(groupID),
		Mode:             ModeNormal,
	}
	if g, ok := e.store.Lookup(groupID); ok {
		rec := g.Snapshot()
		st.Mode = rec.Interaction.Mode
		st.Energy = rec.Energy.Effective(now)
		st.Streak = rec.Energy.ActiveStreak(now)
		st.Consecutive = rec.Consecutive
	} else {
		st.Energy = initialEnergy
	}
	if owner, ok := e.turns.Owner(groupID); ok {
		st.TurnOwner = string(owner)
	}
	return st
}

// Statistics summarizes all loaded groups.
func (e *Engine) Statistics() Statistics {
	return e.store.Statistics()
}

// SinceLastTrigger is how long ago the group's heartbeat last sent, or false if never.
func (st GroupStatus) SinceLastTrigger(now time.Time) (time.Duration, bool) {
	if st.LastTrigger.IsZero() {
		return 0, false
	}
	return now.Sub(st.LastTrigger), true
}
