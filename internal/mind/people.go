package mind

import (
	"strings"
	"time"
)

// PersonUpdateKind classifies a message for impression updates (no LLM, heuristic).
type PersonUpdateKind int

const (
	PersonUpdateNeutral PersonUpdateKind = iota
	PersonUpdatePositive
	PersonUpdateNegative
	PersonUpdateAggressive
)

// ClassifyMessageForPerson returns update kind from content heuristic (caps, length, punctuation).
func ClassifyMessageForPerson(content string) PersonUpdateKind {
	content = strings.TrimSpace(content)
	if content == "" {
		return PersonUpdateNeutral
	}
	upper, letters := 0, 0
	for _, r := range content {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
			letters++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters >= 8 && upper*100/letters > 70 {
		return PersonUpdateAggressive
	}
	lower := strings.ToLower(content)
	for _, w := range []string{"idiot", "stupid", "shut up", "滚", "闭嘴", "傻"} {
		if strings.Contains(lower, w) {
			return PersonUpdateNegative
		}
	}
	for _, w := range []string{"thank", "please", "🙏", "谢谢", "感谢", "辛苦"} {
		if strings.Contains(lower, w) {
			return PersonUpdatePositive
		}
	}
	return PersonUpdateNeutral
}

// impressionDelta is how much one message of kind moves an impression.
func impressionDelta(kind PersonUpdateKind) float64 {
	switch kind {
	case PersonUpdatePositive:
		return 0.02
	case PersonUpdateNegative:
		return -0.03
	case PersonUpdateAggressive:
		return -0.05
	default:
		return 0
	}
}

// NoteMessage updates the sender's impression from the message content.
func (g *GroupState) NoteMessage(userID, content string) float64 {
	d := impressionDelta(ClassifyMessageForPerson(content))
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.rec.Impressions[userID]
	if !ok {
		cur = defaultImpression
	}
	if d == 0 {
		return cur
	}
	cur = clamp01(cur + d)
	if g.rec.Impressions == nil {
		g.rec.Impressions = make(map[string]float64)
	}
	g.rec.Impressions[userID] = cur
	return cur
}

// AddFatigue counts one reply to userID at now, applying decay first.
func (g *GroupState) AddFatigue(userID string, decay time.Duration, now time.Time) int {
	if userID == "" {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec.Fatigue == nil {
		g.rec.Fatigue = make(map[string]FatigueCounter)
	}
	n := decayedFatigue(g.rec.Fatigue[userID], decay, now) + 1
	g.rec.Fatigue[userID] = FatigueCounter{Count: n, LastAt: now}
	return n
}
