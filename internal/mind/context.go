package mind

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/history"
)

// Approximate prompt budgets. Models average about four characters per token.
const (
	CharsPerToken      = 4
	BudgetShortContext = 800 // tokens of recent chat sent with a request
	BudgetBufferLines  = 300 // tokens of buffered chatter in a proactive prompt
)

// HistoryKey is the history store key of a group conversation.
func HistoryKey(groupID string) string {
	return "group:" + groupID
}

// ContextAnalyzer assembles the ChatContext of a message from the group's
// in-memory buffer and the history store.
type ContextAnalyzer struct {
	cfg   Config
	store *Store
	hist  history.Store
	log   zerolog.Logger
}

func NewContextAnalyzer(cfg Config, store *Store, hist history.Store, log zerolog.Logger) *ContextAnalyzer {
	if hist == nil {
		hist = history.Null{}
	}
	return &ContextAnalyzer{cfg: cfg.Normalize(), store: store, hist: hist, log: log}
}

// History returns the group's merged conversation, oldest first. A failing
// history store degrades to the in-memory buffer.
func (a *ContextAnalyzer) History(ctx context.Context, groupID string) []history.Record {
	stored, err := a.hist.Read(ctx, HistoryKey(groupID), a.cfg.HistoryLimit)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn().Err(err).Str("group", groupID).Msg("history read failed, using buffer")
	}
	merged := history.Merge(stored, a.store.Group(groupID).Recent())
	return history.Tail(merged, a.cfg.HistoryLimit)
}

// Analyze builds the ChatContext for ev at now.
func (a *ContextAnalyzer) Analyze(ctx context.Context, ev Event, now time.Time) ChatContext {
	g := a.store.Group(ev.GroupID)
	rec := g.Snapshot()
	return ChatContext{
		GroupID:     ev.GroupID,
		History:     a.History(ctx, ev.GroupID),
		Impression:  g.Impression(ev.SenderID),
		Fatigue:     decayedFatigue(rec.Fatigue[ev.SenderID], a.cfg.FatigueDecay, now),
		Energy:      rec.Energy,
		Mode:        rec.Interaction.Mode,
		Consecutive: rec.Consecutive,
	}
}

// TrimToChars truncates s to maxChars, trying to cut at word boundary.
func TrimToChars(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	out := string(r[:maxChars])
	lastSpace := strings.LastIndex(out, " ")
	if lastSpace > len(out)/2 {
		return strings.TrimSpace(out[:lastSpace])
	}
	return strings.TrimSpace(out)
}

// contextMessages converts the newest records that fit in maxChars into chat turns.
func contextMessages(recs []history.Record, maxChars int) []ai.Message {
	var out []ai.Message
	used := 0
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		m := ai.Message{Role: r.Role, Content: r.Content}
		if r.Role != history.RoleAssistant {
			m.Role = history.RoleUser
			if r.Name != "" {
				m.Content = r.Name + ": " + r.Content
			}
		}
		if maxChars > 0 && used+len(m.Content) > maxChars {
			break
		}
		used += len(m.Content)
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
