package mind

import (
	"strings"
	"time"

	"github.com/keshon/heartflow/internal/history"
)

const (
	duplicateWindow  = 3 * time.Minute
	relevanceWindow  = 30 * time.Minute
	baseCooldown     = 30 * time.Second
	maxCooldownRaise = 0.15
	maxStreakRaise   = 0.15
	focusEase        = 0.05 // threshold cut while talking with the focus target
)

// ChatContext is everything the scorer needs to know about a group at the
// moment of a message. History is oldest first and may contain the message itself.
type ChatContext struct {
	GroupID     string
	History     []history.Record
	Impression  float64
	Fatigue     int
	Energy      EnergyState
	Mode        Mode
	Consecutive int
	// FocusTarget is set when the group is in focus on the sender.
	FocusTarget bool
}

// Components are the individual signals behind a score.
type Components struct {
	BaseProbability  float64 `json:"base_probability"`
	Impression       float64 `json:"impression"`
	GroupActivity    float64 `json:"group_activity"`
	Continuity       float64 `json:"continuity"`
	FatiguePenalty   float64 `json:"fatigue_penalty"`
	DuplicatePenalty float64 `json:"duplicate_penalty"`
	MessageType      float64 `json:"message_type"`
	ContextRelevance float64 `json:"context_relevance"`
}

// DecisionContext is handed to the LLM when air reading decides.
type DecisionContext struct {
	Components Components
	Mentioned  bool
	Question   bool
	Energy     float64
	Streak     int
}

// Result is the outcome of one willingness calculation. ShouldRespond is nil
// when the final call is delegated to the model.
type Result struct {
	ShouldRespond *bool
	Score         float64
	Threshold     float64
	RequiresLLM   bool
	Decision      DecisionContext
}

// Willingness scores how inclined the bot is to answer a message.
type Willingness struct {
	cfg   Config
	store *Store
}

func NewWillingness(cfg Config, store *Store) *Willingness {
	return &Willingness{cfg: cfg.Normalize(), store: store}
}

// Calculate scores ev against cc at now. It does not mutate any state.
func (w *Willingness) Calculate(ev Event, cc ChatContext, now time.Time) Result {
	prior := excludeEvent(cc.History, ev)
	kind := classify(ev.Text)
	mentioned := ev.Mentioned || strings.Contains(ev.Text, "@")

	c := Components{
		BaseProbability:  w.cfg.BaseProbability,
		Impression:       clamp01(cc.Impression),
		GroupActivity:    GroupActivity(cc.History, now),
		Continuity:       ContinuityBonus(ev, prior),
		FatiguePenalty:   w.FatiguePenalty(cc.Fatigue),
		DuplicatePenalty: DuplicatePenalty(ev.Text, prior, now),
		MessageType:      MessageTypeBonus(kind, mentioned),
		ContextRelevance: ContextRelevance(ev.Text, prior, now),
	}
	score := combine(c)
	threshold := w.Threshold(ev, cc, now)

	res := Result{
		Score:     score,
		Threshold: threshold,
		Decision: DecisionContext{
			Components: c,
			Mentioned:  mentioned,
			Question:   kind.question,
			Energy:     cc.Energy.Effective(now),
			Streak:     cc.Energy.ActiveStreak(now),
		},
	}
	if w.cfg.AirReadingEnabled {
		res.RequiresLLM = true
		return res
	}
	ok := score >= threshold
	res.ShouldRespond = &ok
	return res
}

func combine(c Components) float64 {
	base := c.BaseProbability*0.25 + c.Impression*0.35 + c.GroupActivity*0.25 + c.Continuity*0.15
	penalty := max(0.1, 1-c.FatiguePenalty-c.DuplicatePenalty)
	will := base*penalty*0.7 + c.MessageType*0.2 + c.ContextRelevance*0.1
	return clamp01(will)
}

// Threshold is the dynamic cutoff for ev. A mention of the bot lowers it
// below the base; recent replies, reply streaks and low energy raise it.
// Only ev.Mentioned counts as a mention here: an @ aimed at someone else or
// inside an email address does not.
func (w *Willingness) Threshold(ev Event, cc ChatContext, now time.Time) float64 {
	base := w.cfg.WillingnessThreshold
	if ev.Mentioned {
		return clamp(max(0.05, base-0.15), 0.05, 0.9)
	}

	af := min(1, float64(countSince(cc.History, now.Add(-time.Minute)))/3)
	cooldown := time.Duration(float64(baseCooldown) * (1 - 0.4*af))

	var raise float64
	if dt, ok := cc.Energy.SinceReply(now); ok && dt < cooldown {
		raise = maxCooldownRaise * float64(cooldown-dt) / float64(cooldown)
	}
	if streak := cc.Energy.ActiveStreak(now); streak > 0 {
		raise = max(raise, min(maxStreakRaise, 0.03*float64(streak)))
	}

	th := min(0.85, base+raise)
	th += typeAdjustment(classify(ev.Text))
	th += 0.1 * (1 - cc.Energy.Effective(now))
	if cc.FocusTarget {
		th -= focusEase
	}
	return clamp(th, 0.1, 0.9)
}

func typeAdjustment(k messageKind) float64 {
	var adj float64
	if k.question {
		adj -= 0.1
	}
	if k.help {
		adj -= 0.08
	}
	if k.emotion {
		adj -= 0.05
	}
	if k.negative {
		adj += 0.1
	}
	return clamp(adj, -0.15, 0.15)
}

// OnBotReply records a sent reply of length runes. It is the only mutator
// of the energy state.
func (w *Willingness) OnBotReply(groupID string, length int, now time.Time) EnergyState {
	var out EnergyState
	w.store.Group(groupID).Update(func(r *GroupRecord) {
		r.Energy = r.Energy.afterReply(length, now)
		out = r.Energy
	})
	return out
}

// ResetEnergy restores a group's energy state to its initial values.
func (w *Willingness) ResetEnergy(groupID string) {
	w.store.Group(groupID).Update(func(r *GroupRecord) {
		r.Energy = newEnergyState()
	})
}

func (w *Willingness) FatiguePenalty(count int) float64 {
	if count >= w.cfg.FatigueThreshold {
		return 0.5
	}
	return float64(count) * 0.05
}

// GroupActivity blends message rate over several windows, distinct speakers,
// message quality and turn-taking into [0,1].
func GroupActivity(hist []history.Record, now time.Time) float64 {
	if len(hist) == 0 {
		return 0
	}
	windows := []struct {
		minutes float64
		weight  float64
	}{{1, 0.4}, {5, 0.3}, {30, 0.2}, {60, 0.1}}
	var rate float64
	for _, win := range windows {
		n := countSince(hist, now.Add(-time.Duration(win.minutes*float64(time.Minute))))
		rate += min(1, float64(n)/(win.minutes*5)) * win.weight
	}

	recent := userSince(hist, now.Add(-5*time.Minute))
	speakers := make(map[string]struct{})
	var quality float64
	for _, r := range recent {
		speakers[r.UserID] = struct{}{}
		quality += messageQuality(r.Content)
	}
	users := min(1, float64(len(speakers))/10)
	if len(recent) > 0 {
		quality /= float64(len(recent))
	}

	topic := topicContinuity(userSince(hist, now.Add(-10*time.Minute)))
	return clamp01(rate*0.4 + users*0.3 + quality*0.2 + topic*0.1)
}

func messageQuality(text string) float64 {
	var q float64
	n := len([]rune(strings.TrimSpace(text)))
	switch {
	case n >= 5 && n <= 200:
		q += 0.3
	case n > 200:
		q += 0.1
	}
	if strings.ContainsAny(text, "?？@") {
		q += 0.4
	}
	if strings.ContainsAny(text, "!！") || hasEmoji(text) {
		q += 0.3
	}
	return min(1, q)
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF {
			return true
		}
	}
	return false
}

func topicContinuity(recs []history.Record) float64 {
	if len(recs) < 3 {
		return 0
	}
	var score float64
	for i := 1; i < len(recs); i++ {
		if recs[i].UserID == recs[i-1].UserID {
			score += 0.2
		}
		if i >= 2 && recs[i].UserID == recs[i-2].UserID && recs[i].UserID != recs[i-1].UserID {
			score += 0.3
		}
	}
	return min(1, score)
}

// ContinuityBonus rewards a sender who keeps talking, and a message that
// follows up on the bot's last reply.
func ContinuityBonus(ev Event, prior []history.Record) float64 {
	var bonus float64
	if n := len(prior); n >= 2 && prior[n-1].UserID == ev.SenderID && prior[n-2].UserID == ev.SenderID {
		bonus += 0.2
	}
	if last, ok := lastAssistant(prior); ok {
		bonus += 0.3 * Similarity(ev.Text, prior[last].Content)
	}
	return min(0.5, bonus)
}

// DuplicatePenalty penalizes repeating what was just said.
func DuplicatePenalty(text string, prior []history.Record, now time.Time) float64 {
	for i := len(prior) - 1; i >= 0; i-- {
		r := prior[i]
		if r.Role != history.RoleUser {
			continue
		}
		if now.Sub(r.At) <= duplicateWindow && Similarity(text, r.Content) > 0.8 {
			return 0.6
		}
		break
	}

	ref := -1
	if last, ok := lastAssistant(prior); ok {
		for i := last - 1; i >= 0; i-- {
			if prior[i].Role == history.RoleUser {
				ref = i
				break
			}
		}
	} else {
		for i := len(prior) - 1; i >= 0; i-- {
			if prior[i].Role == history.RoleUser {
				ref = i
				break
			}
		}
	}
	if ref >= 0 && now.Sub(prior[ref].At) <= duplicateWindow && Similarity(text, prior[ref].Content) > 0.7 {
		return 0.4
	}
	return 0
}

// MessageTypeBonus scores the kind of message, in [-0.3, 0.5].
func MessageTypeBonus(k messageKind, mentioned bool) float64 {
	var b float64
	if mentioned {
		b += 0.4
	}
	if k.question {
		b += 0.3
	}
	if k.emotion {
		b += 0.2
	}
	if k.help {
		b += 0.25
	}
	if k.share {
		b += 0.15
	}
	if k.negative {
		b -= 0.2
	}
	return clamp(b, -0.3, 0.5)
}

// ContextRelevance is the mean word overlap with up to ten recent messages, in [0, 0.3].
func ContextRelevance(text string, prior []history.Record, now time.Time) float64 {
	var recent []history.Record
	for i := len(prior) - 1; i >= 0 && len(recent) < 10; i-- {
		if now.Sub(prior[i].At) > relevanceWindow {
			break
		}
		recent = append(recent, prior[i])
	}
	if len(recent) == 0 {
		return 0
	}
	var sum float64
	for _, r := range recent {
		sum += wordOverlap(text, r.Content)
	}
	return min(0.3, sum/float64(len(recent))*0.5)
}

// excludeEvent drops the record of ev itself from hist.
func excludeEvent(hist []history.Record, ev Event) []history.Record {
	out := make([]history.Record, 0, len(hist))
	for _, r := range hist {
		if sameMessage(r, ev) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sameMessage(r history.Record, ev Event) bool {
	if r.Role != history.RoleUser {
		return false
	}
	if ev.MessageID != "" && r.ID != "" {
		return r.ID == ev.MessageID
	}
	return r.UserID == ev.SenderID && r.Content == ev.Text && r.At.Equal(ev.Timestamp)
}

func lastAssistant(recs []history.Record) (int, bool) {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Role == history.RoleAssistant {
			return i, true
		}
	}
	return -1, false
}

func countSince(recs []history.Record, cut time.Time) int {
	n := 0
	for _, r := range recs {
		if r.At.After(cut) {
			n++
		}
	}
	return n
}

func userSince(recs []history.Record, cut time.Time) []history.Record {
	var out []history.Record
	for _, r := range recs {
		if r.Role == history.RoleUser && r.At.After(cut) {
			out = append(out, r)
		}
	}
	return out
}
