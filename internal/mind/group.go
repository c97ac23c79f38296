package mind

import (
	"maps"
	"sync"
	"time"

	"github.com/keshon/heartflow/internal/history"
)

const (
	maxRecent         = 80
	defaultImpression = 0.5
)

// Mode is the interaction mode of a group.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeObservation Mode = "observation"
	ModeFocus       Mode = "focus"
)

// InteractionState tracks mode and focus bookkeeping for a group.
type InteractionState struct {
	Mode          Mode      `json:"mode"`
	FocusTarget   string    `json:"focus_target,omitempty"`
	FocusSince    time.Time `json:"focus_since,omitempty"`
	FocusReplies  int       `json:"focus_replies"`
	Conversations int       `json:"conversations"`
	LastActivity  time.Time `json:"last_activity,omitempty"`
}

// FatigueCounter counts replies to one user.
type FatigueCounter struct {
	Count  int       `json:"count"`
	LastAt time.Time `json:"last_at"`
}

// GroupRecord is the persisted per-group document.
type GroupRecord struct {
	Energy      EnergyState               `json:"energy"`
	Consecutive int                       `json:"consecutive"`
	Destination string                    `json:"destination,omitempty"`
	Interaction InteractionState          `json:"interaction"`
	Impressions map[string]float64        `json:"impressions,omitempty"`
	Fatigue     map[string]FatigueCounter `json:"fatigue,omitempty"`
	Frequency   *FrequencySnapshot        `json:"frequency,omitempty"`
}

func newGroupRecord() GroupRecord {
	return GroupRecord{
		Energy:      newEnergyState(),
		Interaction: InteractionState{Mode: ModeNormal},
		Impressions: make(map[string]float64),
		Fatigue:     make(map[string]FatigueCounter),
	}
}

func (r GroupRecord) clone() GroupRecord {
	out := r
	out.Impressions = maps.Clone(r.Impressions)
	out.Fatigue = maps.Clone(r.Fatigue)
	if out.Impressions == nil {
		out.Impressions = make(map[string]float64)
	}
	if out.Fatigue == nil {
		out.Fatigue = make(map[string]FatigueCounter)
	}
	if r.Frequency != nil {
		f := *r.Frequency
		out.Frequency = &f
	}
	return out
}

// GroupState holds one group's record plus a short in-memory message buffer.
type GroupState struct {
	GroupID string

	mu     sync.Mutex
	rec    GroupRecord
	recent []history.Record
}

func newGroupState(groupID string, rec GroupRecord) *GroupState {
	return &GroupState{GroupID: groupID, rec: rec.clone()}
}

// Snapshot returns a deep copy of the record.
func (g *GroupState) Snapshot() GroupRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.clone()
}

// Update mutates the record under the group lock.
func (g *GroupState) Update(fn func(r *GroupRecord)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.rec)
}

func (g *GroupState) Energy() EnergyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.Energy
}

func (g *GroupState) Consecutive() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.Consecutive
}

func (g *GroupState) Destination() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.Destination
}

// SetDestination remembers where replies for this group go. Empty values are ignored.
func (g *GroupState) SetDestination(d string) {
	if d == "" {
		return
	}
	g.mu.Lock()
	g.rec.Destination = d
	g.mu.Unlock()
}

// PushRecent appends a record to the short buffer (oldest first).
func (g *GroupState) PushRecent(r history.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = append(g.recent, r)
	if len(g.recent) > maxRecent {
		g.recent = append([]history.Record(nil), g.recent[len(g.recent)-maxRecent:]...)
	}
}

// Recent returns a copy of the short buffer.
func (g *GroupState) Recent() []history.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]history.Record, len(g.recent))
	copy(out, g.recent)
	return out
}

// Impression returns how the bot regards userID, in [0,1].
func (g *GroupState) Impression(userID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.rec.Impressions[userID]; ok {
		return v
	}
	return defaultImpression
}

// Fatigue returns the reply count for userID after decay at now.
func (g *GroupState) Fatigue(userID string, decay time.Duration, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return decayedFatigue(g.rec.Fatigue[userID], decay, now)
}

func decayedFatigue(c FatigueCounter, decay time.Duration, now time.Time) int {
	if c.Count == 0 || decay <= 0 || c.LastAt.IsZero() {
		return c.Count
	}
	periods := int(now.Sub(c.LastAt) / decay)
	if periods <= 0 {
		return c.Count
	}
	return max(0, c.Count-periods)
}
