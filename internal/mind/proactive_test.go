package mind

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fireLog struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fireLog) fire(_ context.Context, _, _ string, lines []string) {
	f.mu.Lock()
	f.calls = append(f.calls, lines)
	f.mu.Unlock()
}

func (f *fireLog) get() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func TestStartOrResetKeepsOnlyLatest(t *testing.T) {
	var log fireLog
	p := NewProactiveScheduler(context.Background(), 30*time.Millisecond, NewTurnOwner(), log.fire, zerolog.Nop())

	p.StartOrReset("g", "chan")
	p.Buffer("g", "alice: one")
	p.StartOrReset("g", "chan")
	p.Buffer("g", "bob: two")
	p.Wait()

	calls := log.get()
	if len(calls) != 1 {
		t.Fatalf("fired %d times, want 1", len(calls))
	}
	if len(calls[0]) != 1 || calls[0][0] != "bob: two" {
		t.Fatalf("lines = %v", calls[0])
	}
	if p.Pending("g") {
		t.Fatal("task still pending after firing")
	}
}

func TestProactiveSkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *ProactiveScheduler, turns *TurnOwner)
	}{
		{"empty buffer", func(*ProactiveScheduler, *TurnOwner) {}},
		{"canceled", func(p *ProactiveScheduler, _ *TurnOwner) {
			p.Buffer("g", "alice: hi")
			p.Cancel("g")
		}},
		{"image intercepted", func(p *ProactiveScheduler, turns *TurnOwner) {
			p.Buffer("g", "alice: look")
			turns.MarkImage("g")
		}},
		{"forced reply in flight", func(p *ProactiveScheduler, turns *TurnOwner) {
			p.Buffer("g", "alice: hi")
			end := turns.BeginForced()
			time.AfterFunc(200*time.Millisecond, end)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log fireLog
			turns := NewTurnOwner()
			p := NewProactiveScheduler(context.Background(), 20*time.Millisecond, turns, log.fire, zerolog.Nop())
			p.StartOrReset("g", "chan")
			tt.setup(p, turns)
			p.Wait()
			if n := len(log.get()); n != 0 {
				t.Fatalf("fired %d times", n)
			}
		})
	}
}

func TestBufferWithoutTask(t *testing.T) {
	p := NewProactiveScheduler(context.Background(), time.Hour, nil, nil, zerolog.Nop())
	if p.Buffer("g", "alice: hi") {
		t.Fatal("buffered without a task")
	}
}

func TestParentCancelStopsTasks(t *testing.T) {
	var log fireLog
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProactiveScheduler(ctx, time.Hour, NewTurnOwner(), log.fire, zerolog.Nop())
	p.StartOrReset("g1", "c1")
	p.StartOrReset("g2", "c2")
	p.Buffer("g1", "alice: hi")

	cancel()
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks outlived their parent")
	}
	if len(log.get()) != 0 {
		t.Fatal("canceled task fired")
	}
}
