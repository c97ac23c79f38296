package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/mind"
)

func openTemp(t *testing.T) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heartflow.json")
	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s, path
}

func TestGroupRoundTripAcrossReopen(t *testing.T) {
	s, path := openTemp(t)

	rec := mind.GroupRecord{
		Energy:      mind.EnergyState{Energy: 0.42, LastReplyTS: 1700000000, Streak: 2},
		Consecutive: 1,
		Destination: "chan-1",
		Interaction: mind.InteractionState{Mode: mind.ModeFocus, FocusTarget: "u1"},
		Impressions: map[string]float64{"u1": 0.6},
	}
	if err := s.SaveGroup("g1", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.LoadGroup("g1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Energy != rec.Energy || got.Destination != "chan-1" || got.Interaction.Mode != mind.ModeFocus {
		t.Fatalf("got %+v", got)
	}
	if got.Impressions["u1"] != 0.6 || got.Fatigue == nil {
		t.Fatalf("maps not restored: %+v", got)
	}
	if ids := s2.Groups(); len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("groups = %v", ids)
	}
}

func TestLoadMissingGroup(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	_, ok, err := s.LoadGroup("nope")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestStoreUsesStoragePersister(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	store := mind.NewStore(s, zerolog.Nop())
	store.Group("g2").SetDestination("chan-2")
	if err := store.Save("g2"); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := mind.NewStore(s, zerolog.Nop())
	if got := fresh.Group("g2").Destination(); got != "chan-2" {
		t.Fatalf("destination = %q", got)
	}
}

func TestCommandHistoryIsCapped(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	for i := 0; i < commandHistoryLimit+5; i++ {
		if err := s.AppendCommandToHistory("g1", CommandHistoryRecord{Command: "gcstatus", Datetime: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.FetchCommandHistory("g1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != commandHistoryLimit {
		t.Fatalf("len = %d, want %d", len(got), commandHistoryLimit)
	}
	if got[0].Datetime.Unix() != 5 {
		t.Fatalf("oldest kept = %d, want 5", got[0].Datetime.Unix())
	}
}

type countingSaver struct {
	n   atomic.Int32
	err error
}

func (c *countingSaver) SaveAll() error {
	c.n.Add(1)
	return c.err
}

func TestRunPeriodicSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingSaver{err: errors.New("disk full")}
	done := make(chan struct{})
	go func() {
		RunPeriodicSave(ctx, c, 5*time.Millisecond, zerolog.Nop())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for c.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
	if c.n.Load() < 2 {
		t.Fatalf("saves = %d, want at least 2", c.n.Load())
	}
}
