package mind

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/history"
)

type brokenHistory struct{}

func (brokenHistory) Append(context.Context, string, history.Record) error {
	return history.ErrUnavailable
}

func (brokenHistory) Read(context.Context, string, int) ([]history.Record, error) {
	return nil, errors.New("connection refused")
}

func TestHistoryMergesStoreAndBuffer(t *testing.T) {
	now := tenOClock
	hist := history.NewMemory(0)
	ctx := context.Background()
	hist.Append(ctx, HistoryKey("g"), userRec("1", "u1", "stored only", now.Add(-2*time.Minute)))
	hist.Append(ctx, HistoryKey("g"), userRec("2", "u1", "in both", now.Add(-time.Minute)))

	store := NewStore(nil, zerolog.Nop())
	store.Group("g").PushRecent(userRec("2", "u1", "in both", now.Add(-time.Minute)))
	store.Group("g").PushRecent(userRec("3", "u2", "buffer only", now))

	a := NewContextAnalyzer(DefaultConfig(), store, hist, zerolog.Nop())
	got := a.History(ctx, "g")
	if len(got) != 3 || got[0].Content != "stored only" || got[2].Content != "buffer only" {
		t.Fatalf("history = %+v", got)
	}

	cfg := DefaultConfig()
	cfg.HistoryLimit = 2
	if got := NewContextAnalyzer(cfg, store, hist, zerolog.Nop()).History(ctx, "g"); len(got) != 2 || got[1].Content != "buffer only" {
		t.Fatalf("limited history = %+v", got)
	}
}

func TestHistoryFallsBackToBuffer(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	store.Group("g").PushRecent(userRec("1", "u1", "still here", tenOClock))
	a := NewContextAnalyzer(DefaultConfig(), store, brokenHistory{}, zerolog.Nop())
	if got := a.History(context.Background(), "g"); len(got) != 1 {
		t.Fatalf("history = %+v", got)
	}
}

func TestAnalyze(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	g := store.Group("g")
	g.NoteMessage("u1", "thanks!")
	g.AddFatigue("u1", 10*time.Minute, tenOClock)
	g.Update(func(r *GroupRecord) { r.Consecutive = 2 })

	a := NewContextAnalyzer(DefaultConfig(), store, nil, zerolog.Nop())
	cc := a.Analyze(context.Background(), Event{GroupID: "g", SenderID: "u1"}, tenOClock.Add(time.Minute))
	if !near(cc.Impression, 0.52, 1e-9) || cc.Fatigue != 1 || cc.Consecutive != 2 || cc.Mode != ModeNormal {
		t.Fatalf("context = %+v", cc)
	}
}

func TestTrimToChars(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"hello brave new world", 15, "hello brave"},
		{"abcdefghij", 4, "abcd"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := TrimToChars(tt.in, tt.max); got != tt.want {
			t.Errorf("TrimToChars(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestContextMessagesKeepsNewest(t *testing.T) {
	recs := []history.Record{
		{Role: history.RoleUser, Name: "Alice", Content: strings.Repeat("a", 50)},
		{Role: history.RoleAssistant, Content: "noted"},
		{Role: history.RoleUser, Name: "Bob", Content: "and then?"},
	}
	got := contextMessages(recs, 30)
	want := []ai.Message{
		{Role: history.RoleAssistant, Content: "noted"},
		{Role: history.RoleUser, Content: "Bob: and then?"},
	}
	if len(got) != len(want) {
		t.Fatalf("messages = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest(Persona{Name: "Mika"}, nil, "focus line", heartbeatInstruction)
	if req.SystemPrompt != "You are Mika, a member of this group chat." {
		t.Fatalf("system = %q", req.SystemPrompt)
	}
	if !strings.HasPrefix(req.Prompt, "focus line\n\n") || !strings.Contains(req.Prompt, ai.NoResponse) {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	if block := proactiveBlock([]string{"a: one", "b: two"}); !strings.Contains(block, "a: one\nb: two") {
		t.Fatalf("block = %q", block)
	}
}
