package util

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelVisitsEveryInput(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[int]bool{}
		live atomic.Int32
		peak atomic.Int32
	)
	inputs := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	err := Parallel(context.Background(), inputs, 3, func(_ context.Context, n int) error {
		cur := live.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		live.Add(-1)
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(seen) != len(inputs) {
		t.Fatalf("visited %d of %d", len(seen), len(inputs))
	}
	if peak.Load() > 3 {
		t.Fatalf("worker limit exceeded: %d", peak.Load())
	}
}

func TestParallelStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := Parallel(context.Background(), make([]int, 100), 1, func(ctx context.Context, _ int) error {
		if calls.Add(1) == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() >= 100 {
		t.Fatal("work continued after the error")
	}
}

func TestParallelParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Parallel(ctx, []int{1, 2, 3}, 2, func(context.Context, int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := Parallel[int](ctx, nil, 2, nil); err != nil {
		t.Fatalf("empty input err = %v", err)
	}
}

func TestForEachJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	var calls atomic.Int32
	err := ForEach(context.Background(), []string{"a", "ok", "b"}, 2, func(_ context.Context, s string) error {
		calls.Add(1)
		switch s {
		case "a":
			return errA
		case "b":
			return errB
		}
		return nil
	})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestFormatDateTpl(t *testing.T) {
	ts := int64(1699603200000)
	tests := []struct {
		tpl  string
		loc  *time.Location
		want string
	}{
		{"YYYY.MM.DD", nil, "2023.11.10"},
		{"YYYY-MM-DD hh:mm", nil, "2023-11-10 08:00"},
		{"DD/MM/YY hh:mm:ss", time.FixedZone("plus3", 3*3600), "10/11/23 11:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			if got := FormatDateTpl(ts, tt.tpl, tt.loc); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
	if got := FormatDateTpl(0, "YYYY", nil); got != "" {
		t.Fatalf("zero ts = %q", got)
	}
}
