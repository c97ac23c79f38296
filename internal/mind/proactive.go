package mind

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProactiveFire is called once per task with the lines buffered during its delay.
type ProactiveFire func(ctx context.Context, groupID, destination string, lines []string)

type proactiveTask struct {
	id          string
	destination string
	cancel      context.CancelFunc
	buffer      []string
}

// ProactiveScheduler debounces group chatter after a bot reply and asks once
// whether to chime in. Each group has at most one outstanding task.
type ProactiveScheduler struct {
	parent context.Context
	delay  time.Duration
	turns  *TurnOwner
	fire   ProactiveFire
	log    zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*proactiveTask
	wg    sync.WaitGroup
}

func NewProactiveScheduler(parent context.Context, delay time.Duration, turns *TurnOwner, fire ProactiveFire, log zerolog.Logger) *ProactiveScheduler {
	if parent == nil {
		parent = context.Background()
	}
	if delay <= 0 {
		delay = DefaultConfig().ProactiveDelay
	}
	if turns == nil {
		turns = NewTurnOwner()
	}
	return &ProactiveScheduler{
		parent: parent,
		delay:  delay,
		turns:  turns,
		fire:   fire,
		log:    log,
		tasks:  make(map[string]*proactiveTask),
	}
}

// StartOrReset replaces the group's task with a fresh one and an empty buffer.
func (p *ProactiveScheduler) StartOrReset(groupID, destination string) string {
	ctx, cancel := context.WithCancel(p.parent)
	task := &proactiveTask{id: uuid.NewString(), destination: destination, cancel: cancel}

	p.mu.Lock()
	if old, ok := p.tasks[groupID]; ok {
		old.cancel()
	}
	p.tasks[groupID] = task
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, groupID, task)
	return task.id
}

// Buffer appends a line to the group's pending task. It returns false when
// no task is outstanding.
func (p *ProactiveScheduler) Buffer(groupID, line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[groupID]
	if !ok {
		return false
	}
	task.buffer = append(task.buffer, line)
	return true
}

// Pending reports whether the group has an outstanding task.
func (p *ProactiveScheduler) Pending(groupID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[groupID]
	return ok
}

// Cancel drops the group's task, if any.
func (p *ProactiveScheduler) Cancel(groupID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[groupID]
	if !ok {
		return false
	}
	task.cancel()
	delete(p.tasks, groupID)
	return true
}

// CancelAll drops every task.
func (p *ProactiveScheduler) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, task := range p.tasks {
		task.cancel()
		delete(p.tasks, id)
	}
}

// Wait blocks until every started task goroutine has returned.
func (p *ProactiveScheduler) Wait() {
	p.wg.Wait()
}

func (p *ProactiveScheduler) run(ctx context.Context, groupID string, task *proactiveTask) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.tasks[groupID] == task {
			delete(p.tasks, groupID)
		}
		p.mu.Unlock()
		task.cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("group", groupID).Msg("proactive task panicked")
		}
	}()

	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	p.mu.Lock()
	if p.tasks[groupID] != task {
		p.mu.Unlock()
		p.log.Debug().Str("group", groupID).Str("task", task.id).Msg("proactive task superseded")
		return
	}
	if p.turns.TakeImage(groupID) {
		delete(p.tasks, groupID)
		p.mu.Unlock()
		p.log.Debug().Str("group", groupID).Msg("proactive skipped: image interception")
		return
	}
	if p.turns.ForcedInProgress() {
		delete(p.tasks, groupID)
		p.mu.Unlock()
		p.log.Debug().Str("group", groupID).Msg("proactive skipped: forced reply in progress")
		return
	}
	lines := task.buffer
	task.buffer = nil
	delete(p.tasks, groupID)
	p.mu.Unlock()

	if len(lines) == 0 || p.fire == nil {
		return
	}
	p.fire(ctx, groupID, task.destination, lines)
}
