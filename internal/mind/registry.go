package mind

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/pkg/jobmgr"
	"github.com/keshon/heartflow/pkg/util"
)

const flowJobPrefix = "heartbeat:"

// Registry owns one HeartbeatFlow per group and runs each as a named job.
type Registry struct {
	cfg     Config
	store   *Store
	policy  GroupPolicy
	mention *MentionDetector
	trigger HeartbeatTrigger
	jobs    *jobmgr.Manager
	log     zerolog.Logger
	clock   func() time.Time

	mu     sync.RWMutex
	flows  map[string]*HeartbeatFlow
	parent context.Context // set by Start; flows created later start immediately
}

func NewRegistry(cfg Config, store *Store, policy GroupPolicy, mention *MentionDetector, trigger HeartbeatTrigger, log zerolog.Logger) *Registry {
	if policy == nil {
		policy = AllowAll{}
	}
	r := &Registry{
		cfg:     cfg.Normalize(),
		store:   store,
		policy:  policy,
		mention: mention,
		trigger: trigger,
		log:     log,
		clock:   time.Now,
		flows:   make(map[string]*HeartbeatFlow),
	}
	r.jobs = jobmgr.NewManager(func(s string) {
		if strings.HasPrefix(s, "error:") && !strings.HasSuffix(s, context.Canceled.Error()) {
			r.log.Warn().Str("job", s).Msg("flow job ended with error")
			return
		}
		r.log.Trace().Str("job", s).Msg("flow job")
	})
	return r
}

func jobName(groupID string) string { return flowJobPrefix + groupID }

// Start runs flows for every known group and for groups seen later.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.parent = ctx
	r.mu.Unlock()
	return r.StartAll()
}

// EnsureFlow returns the group's flow, creating it from persisted state if needed.
func (r *Registry) EnsureFlow(groupID string) *HeartbeatFlow {
	r.mu.RLock()
	f := r.flows[groupID]
	r.mu.RUnlock()
	if f != nil {
		return f
	}

	r.mu.Lock()
	if f = r.flows[groupID]; f != nil {
		r.mu.Unlock()
		return f
	}
	freq := NewFrequencyControl(r.cfg.AtBoostValue, r.cfg.HeartbeatThreshold)
	rec := r.store.Group(groupID).Snapshot()
	if rec.Frequency != nil {
		freq.Restore(*rec.Frequency)
	}
	f = NewHeartbeatFlow(groupID, r.cfg, freq, r.mention, r.trigger, r.log)
	f.clock = r.clock
	f.SetDestination(rec.Destination)
	r.flows[groupID] = f
	parent := r.parent
	r.mu.Unlock()

	if parent != nil {
		if err := r.startFlow(parent, f); err != nil {
			r.log.Warn().Err(err).Str("group", groupID).Msg("start flow")
		}
	}
	return f
}

// Flow returns the group's flow if one exists.
func (r *Registry) Flow(groupID string) (*HeartbeatFlow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[groupID]
	return f, ok
}

func (r *Registry) startFlow(parent context.Context, f *HeartbeatFlow) error {
	if r.jobs.Running(jobName(f.GroupID)) {
		return nil
	}
	return r.jobs.StartAsync(parent, jobName(f.GroupID), f.Run)
}

// StartAll starts flows for every allowed group the store knows about.
func (r *Registry) StartAll() error {
	r.mu.RLock()
	parent := r.parent
	r.mu.RUnlock()
	if parent == nil {
		return errors.New("registry: not started")
	}
	var errs []error
	for _, id := range r.store.KnownGroups() {
		if !r.policy.Allowed(id) {
			continue
		}
		if err := r.startFlow(parent, r.EnsureFlow(id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops the group's flow, waits for it and persists its activity history.
func (r *Registry) Stop(ctx context.Context, groupID string) error {
	f, ok := r.Flow(groupID)
	if !ok {
		return nil
	}
	if r.jobs.Running(jobName(groupID)) {
		if err := r.jobs.StopWait(ctx, jobName(groupID)); err != nil {
			return fmt.Errorf("stop flow %s: %w", groupID, err)
		}
	}
	return r.persist(f)
}

// StopAll stops every flow concurrently.
func (r *Registry) StopAll(ctx context.Context) error {
	groups := r.Groups()
	return util.ForEach(ctx, groups, 8, func(ctx context.Context, id string) error {
		return r.Stop(ctx, id)
	})
}

// Remove stops the group's flow and forgets it.
func (r *Registry) Remove(ctx context.Context, groupID string) error {
	err := r.Stop(ctx, groupID)
	r.mu.Lock()
	delete(r.flows, groupID)
	r.mu.Unlock()
	return err
}

// UpdateGroupList starts flows for allowed groups in ids and removes flows
// for groups no longer present.
func (r *Registry) UpdateGroupList(ctx context.Context, ids []string) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if r.policy.Allowed(id) {
			want[id] = struct{}{}
			r.EnsureFlow(id)
		}
	}
	var errs []error
	for _, id := range r.Groups() {
		if _, ok := want[id]; !ok {
			if err := r.Remove(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Groups returns the ids of groups with a flow, sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether the group's flow goroutine is alive.
func (r *Registry) Running(groupID string) bool {
	return r.jobs.Running(jobName(groupID))
}

// OnMessage feeds an inbound message to the group's flow.
func (r *Registry) OnMessage(ev Event) {
	f := r.EnsureFlow(ev.GroupID)
	f.OnMessage(ev)
	if f.freq.NeedsSave(ev.Timestamp) {
		if err := r.persist(f); err != nil {
			r.log.Warn().Err(err).Str("group", ev.GroupID).Msg("persist activity history")
		}
	}
}

// TriggerNow fires the group's heartbeat immediately.
func (r *Registry) TriggerNow(ctx context.Context, groupID string) (bool, error) {
	if !r.policy.Allowed(groupID) {
		return false, fmt.Errorf("%w: %s", ErrGroupDenied, groupID)
	}
	return r.EnsureFlow(groupID).TriggerNow(ctx, r.clock()), nil
}

// SetThreshold changes the group's heartbeat threshold and persists it.
func (r *Registry) SetThreshold(groupID string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %.2f", ErrThresholdRange, v)
	}
	f := r.EnsureFlow(groupID)
	f.freq.SetThreshold(v)
	return r.persist(f)
}

// Stats returns the group's heartbeat status. HasFlow is false for unknown groups.
func (r *Registry) Stats(groupID string) FlowStats {
	st := FlowStats{GroupID: groupID, Threshold: r.cfg.HeartbeatThreshold}
	if f, ok := r.Flow(groupID); ok {
		st = f.Stats(r.clock())
	}
	if g, ok := r.store.Lookup(groupID); ok && g.Destination() != "" {
		st.HasDestination = true
	}
	return st
}

func (r *Registry) persist(f *HeartbeatFlow) error {
	snap := f.freq.Snapshot(r.clock())
	r.store.Group(f.GroupID).Update(func(rec *GroupRecord) {
		rec.Frequency = &snap
	})
	return r.store.Save(f.GroupID)
}
