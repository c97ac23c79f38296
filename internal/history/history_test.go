package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeDedupesAndSorts(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	platform := []Record{
		{ID: "a", Role: RoleUser, Content: "hello", At: base},
		{ID: "c", Role: RoleAssistant, Content: "hi there", At: base.Add(2 * time.Second)},
	}
	plugin := []Record{
		{ID: "x", Role: RoleUser, Content: "hello", At: base.Add(300 * time.Millisecond)},
		{ID: "b", Role: RoleUser, Content: "anyone?", At: base.Add(time.Second)},
	}

	got := Merge(platform, plugin)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
	}
	wantIDs := []string{"a", "b", "c"}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("record %d: got id %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestMemoryCapAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	for i := 0; i < 5; i++ {
		_ = m.Append(ctx, "g", Record{Content: string(rune('a' + i))})
	}
	all, _ := m.Read(ctx, "g", 0)
	if len(all) != 3 || all[0].Content != "c" {
		t.Fatalf("unexpected records: %+v", all)
	}
	last, _ := m.Read(ctx, "g", 2)
	if len(last) != 2 || last[1].Content != "e" {
		t.Fatalf("unexpected tail: %+v", last)
	}
}

func TestSQLiteAppendRead(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	base := time.Now().Add(-time.Minute)
	for i, c := range []string{"one", "two", "three"} {
		r := Record{ID: c, Role: RoleUser, UserID: "u1", Content: c, At: base.Add(time.Duration(i) * time.Second)}
		if err := s.Append(ctx, "guild-1", r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// duplicate id is ignored
	if err := s.Append(ctx, "guild-1", Record{ID: "two", Role: RoleUser, Content: "two"}); err != nil {
		t.Fatalf("append dup: %v", err)
	}
	_ = s.Append(ctx, "guild-2", Record{Role: RoleUser, Content: "other"})

	n, err := s.Count(ctx, "guild-1")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}

	got, err := s.Read(ctx, "guild-1", 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Content != "two" || got[1].Content != "three" {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[1].At.Sub(base.Add(2*time.Second)).Abs() > time.Millisecond {
		t.Errorf("timestamp not preserved: %v", got[1].At)
	}
}

func TestNullStore(t *testing.T) {
	var s Store = Null{}
	if err := s.Append(context.Background(), "k", Record{Content: "x"}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.Read(context.Background(), "k", 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("null store returned %v, %v", recs, err)
	}
}
