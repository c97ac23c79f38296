package mind

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Persister loads and saves whole group documents.
type Persister interface {
	LoadGroup(groupID string) (GroupRecord, bool, error)
	SaveGroup(groupID string, rec GroupRecord) error
	Groups() []string
}

// MemoryPersister keeps group documents in memory.
type MemoryPersister struct {
	mu   sync.Mutex
	recs map[string]GroupRecord
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{recs: make(map[string]GroupRecord)}
}

func (m *MemoryPersister) LoadGroup(groupID string) (GroupRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[groupID]
	if !ok {
		return GroupRecord{}, false, nil
	}
	return rec.clone(), true, nil
}

func (m *MemoryPersister) SaveGroup(groupID string, rec GroupRecord) error {
	m.mu.Lock()
	m.recs[groupID] = rec.clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryPersister) Groups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.recs))
	for id := range m.recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store holds per-group states, loading each lazily. Safe for concurrent use.
type Store struct {
	persister Persister
	log       zerolog.Logger

	mu     sync.RWMutex
	groups map[string]*GroupState
}

// NewStore creates a Store backed by p. A nil p keeps state in memory only.
func NewStore(p Persister, log zerolog.Logger) *Store {
	if p == nil {
		p = NewMemoryPersister()
	}
	return &Store{
		persister: p,
		log:       log,
		groups:    make(map[string]*GroupState),
	}
}

// Group returns the state for groupID, loading or creating it if needed.
func (s *Store) Group(groupID string) *GroupState {
	s.mu.RLock()
	g := s.groups[groupID]
	s.mu.RUnlock()
	if g != nil {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g = s.groups[groupID]; g != nil {
		return g
	}
	rec, ok, err := s.persister.LoadGroup(groupID)
	if err != nil {
		s.log.Warn().Err(err).Str("group", groupID).Msg("load group state, starting fresh")
	}
	if !ok || err != nil {
		rec = newGroupRecord()
	}
	if rec.Energy.Energy == 0 {
		rec.Energy.Energy = initialEnergy
	}
	if rec.Interaction.Mode == "" {
		rec.Interaction.Mode = ModeNormal
	}
	g = newGroupState(groupID, rec)
	s.groups[groupID] = g
	return g
}

// Lookup returns the group's state only if it is already loaded.
func (s *Store) Lookup(groupID string) (*GroupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	return g, ok
}

// Save writes the group's current record as one snapshot.
func (s *Store) Save(groupID string) error {
	s.mu.RLock()
	g := s.groups[groupID]
	s.mu.RUnlock()
	if g == nil {
		return nil
	}
	if err := s.persister.SaveGroup(groupID, g.Snapshot()); err != nil {
		return fmt.Errorf("save group %s: %w", groupID, err)
	}
	return nil
}

// SaveAll saves every loaded group.
func (s *Store) SaveAll() error {
	var errs []error
	for _, id := range s.Loaded() {
		if err := s.Save(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loaded returns the ids of groups held in memory.
func (s *Store) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KnownGroups returns loaded and persisted group ids.
func (s *Store) KnownGroups() []string {
	seen := make(map[string]struct{})
	for _, id := range s.Loaded() {
		seen[id] = struct{}{}
	}
	for _, id := range s.persister.Groups() {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statistics summarizes the loaded groups.
type Statistics struct {
	Groups             int          `json:"groups"`
	WithDestination    int          `json:"with_destination"`
	Modes              map[Mode]int `json:"modes"`
	ConsecutiveReplies int          `json:"consecutive_replies"` // sum over groups
	AverageEnergy      float64      `json:"average_energy"`
	TrackedUsers       int          `json:"tracked_users"`
	Conversations      int          `json:"conversations"`
}

func (s *Store) Statistics() Statistics {
	st := Statistics{Modes: make(map[Mode]int)}
	var energy float64
	for _, id := range s.Loaded() {
		rec := s.Group(id).Snapshot()
		st.Groups++
		if rec.Destination != "" {
			st.WithDestination++
		}
		st.Modes[rec.Interaction.Mode]++
		st.ConsecutiveReplies += rec.Consecutive
		st.TrackedUsers += len(rec.Impressions)
		st.Conversations += rec.Interaction.Conversations
		energy += rec.Energy.Energy
	}
	if st.Groups > 0 {
		st.AverageEnergy = energy / float64(st.Groups)
	}
	return st
}

// ClearAll resets every loaded group to a fresh record, keeping destinations.
func (s *Store) ClearAll() error {
	for _, id := range s.Loaded() {
		s.Group(id).Update(func(r *GroupRecord) {
			dest := r.Destination
			*r = newGroupRecord()
			r.Destination = dest
		})
	}
	return s.SaveAll()
}
