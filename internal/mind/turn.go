package mind

import (
	"context"
	"sync"
	"sync/atomic"
)

// TurnKind names who holds a group's turn.
type TurnKind string

const (
	TurnForced     TurnKind = "forced"
	TurnImmersive  TurnKind = "immersive"
	TurnReply      TurnKind = "reply"
	TurnAirReading TurnKind = "air_reading"
	TurnHeartbeat  TurnKind = "heartbeat"
	TurnProactive  TurnKind = "proactive"
)

// TurnOwner guarantees at most one send path per group at a time. Every
// acquisition hands back a release func that is safe to call repeatedly.
type TurnOwner struct {
	mu     sync.Mutex
	slots  map[string]*turnSlot
	images map[string]bool
	forced atomic.Int64
}

type turnSlot struct {
	sem   chan struct{}
	owner TurnKind
}

func NewTurnOwner() *TurnOwner {
	return &TurnOwner{
		slots:  make(map[string]*turnSlot),
		images: make(map[string]bool),
	}
}

func (t *TurnOwner) slot(groupID string) *turnSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[groupID]
	if !ok {
		s = &turnSlot{sem: make(chan struct{}, 1)}
		t.slots[groupID] = s
	}
	return s
}

// TryAcquire takes the group's turn if it is free.
func (t *TurnOwner) TryAcquire(groupID string, kind TurnKind) (release func(), ok bool) {
	s := t.slot(groupID)
	select {
	case s.sem <- struct{}{}:
		return t.hold(s, kind), true
	default:
		return func() {}, false
	}
}

// Acquire waits for the group's turn or until ctx ends.
func (t *TurnOwner) Acquire(ctx context.Context, groupID string, kind TurnKind) (release func(), err error) {
	s := t.slot(groupID)
	select {
	case s.sem <- struct{}{}:
		return t.hold(s, kind), nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

func (t *TurnOwner) hold(s *turnSlot, kind TurnKind) func() {
	t.mu.Lock()
	s.owner = kind
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			s.owner = ""
			t.mu.Unlock()
			<-s.sem
		})
	}
}

// Owner reports who holds the group's turn.
func (t *TurnOwner) Owner(groupID string) (TurnKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[groupID]
	if !ok || s.owner == "" {
		return "", false
	}
	return s.owner, true
}

// BeginForced marks a forced reply in flight anywhere in the process. The
// returned func ends it and is safe to call repeatedly.
func (t *TurnOwner) BeginForced() func() {
	t.forced.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.forced.Add(-1) })
	}
}

func (t *TurnOwner) ForcedInProgress() bool {
	return t.forced.Load() > 0
}

// MarkImage flags that the group's latest message carried an image.
func (t *TurnOwner) MarkImage(groupID string) {
	t.mu.Lock()
	t.images[groupID] = true
	t.mu.Unlock()
}

// TakeImage reports and clears the image flag.
func (t *TurnOwner) TakeImage(groupID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.images[groupID]
	delete(t.images, groupID)
	return v
}
