// Package history stores per-conversation message records.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Roles used in records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnavailable is returned by stores that cannot serve requests.
var ErrUnavailable = errors.New("history: store unavailable")

// Record is one stored message.
type Record struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"`
	UserID  string    `json:"user_id,omitempty"`
	Name    string    `json:"name,omitempty"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store is the persistence contract the engine depends on.
// Read returns at most limit records, oldest first. limit <= 0 means all.
type Store interface {
	Append(ctx context.Context, key string, r Record) error
	Read(ctx context.Context, key string, limit int) ([]Record, error)
}

// Null is a Store that keeps nothing.
type Null struct{}

func (Null) Append(context.Context, string, Record) error { return nil }

func (Null) Read(context.Context, string, int) ([]Record, error) { return nil, nil }

// Memory is an in-process Store with a per-key cap.
type Memory struct {
	mu   sync.RWMutex
	max  int
	data map[string][]Record
}

// NewMemory creates a Memory store keeping the last max records per key (0 = 500).
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 500
	}
	return &Memory{max: max, data: make(map[string][]Record)}
}

func (m *Memory) Append(_ context.Context, key string, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append(m.data[key], r)
	if len(recs) > m.max {
		recs = recs[len(recs)-m.max:]
	}
	m.data[key] = recs
	return nil
}

func (m *Memory) Read(_ context.Context, key string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.data[key]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

// Merge combines several record lists into one chronological list.
// Records with the same content and the same timestamp (to the second) are
// kept once; the first source wins.
func Merge(sources ...[]Record) []Record {
	seen := make(map[string]struct{})
	var out []Record
	for _, src := range sources {
		for _, r := range src {
			k := dedupeKey(r)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func dedupeKey(r Record) string {
	return strings.TrimSpace(r.Content) + "\x00" + r.At.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Tail returns the last n records of recs (all when n <= 0 or n >= len).
func Tail(recs []Record, n int) []Record {
	if n <= 0 || n >= len(recs) {
		return recs
	}
	return recs[len(recs)-n:]
}
