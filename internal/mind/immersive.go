package mind

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/history"
)

type sessionKey struct {
	group, user string
}

type immersiveSession struct {
	id       string
	snapshot []history.Record
	timer    *time.Timer
	armedAt  time.Time
}

// ImmersiveSessions tracks short follow-up windows per (group, user). Arming
// a key always replaces its previous timer.
type ImmersiveSessions struct {
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*immersiveSession
	live     atomic.Int64
}

func NewImmersiveSessions(timeout time.Duration, log zerolog.Logger) *ImmersiveSessions {
	if timeout <= 0 {
		timeout = DefaultConfig().ImmersiveTimeout
	}
	return &ImmersiveSessions{
		timeout:  timeout,
		log:      log,
		sessions: make(map[sessionKey]*immersiveSession),
	}
}

// Arm opens or refreshes the session for (groupID, userID) with a history snapshot.
func (s *ImmersiveSessions) Arm(groupID, userID string, snapshot []history.Record, now time.Time) string {
	key := sessionKey{groupID, userID}
	sess := &immersiveSession{
		id:       uuid.NewString(),
		snapshot: append([]history.Record(nil), snapshot...),
		armedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[key]; ok {
		s.stop(old)
	}
	s.live.Add(1)
	id := sess.id
	sess.timer = time.AfterFunc(s.timeout, func() { s.expire(key, id) })
	s.sessions[key] = sess

	s.log.Debug().Str("group", groupID).Str("user", userID).Str("session", id).Msg("immersive armed")
	return id
}

func (s *ImmersiveSessions) expire(key sessionKey, id string) {
	defer s.live.Add(-1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[key]; ok && cur.id == id {
		delete(s.sessions, key)
		s.log.Debug().Str("group", key.group).Str("user", key.user).Msg("immersive expired")
	}
}

// stop cancels a session's timer. Caller holds mu.
func (s *ImmersiveSessions) stop(sess *immersiveSession) {
	if sess.timer != nil && sess.timer.Stop() {
		s.live.Add(-1)
	}
}

// Armed reports whether a session is open for the key.
func (s *ImmersiveSessions) Armed(groupID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionKey{groupID, userID}]
	return ok
}

// Snapshot returns the history captured when the session was armed.
func (s *ImmersiveSessions) Snapshot(groupID, userID string) ([]history.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{groupID, userID}]
	if !ok {
		return nil, false
	}
	return append([]history.Record(nil), sess.snapshot...), true
}

// Drop closes the session for the key, if any.
func (s *ImmersiveSessions) Drop(groupID, userID string) bool {
	key := sessionKey{groupID, userID}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return false
	}
	s.stop(sess)
	delete(s.sessions, key)
	return true
}

// Len is the number of open sessions.
func (s *ImmersiveSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LiveTimers is the number of timers that have neither fired nor been stopped.
func (s *ImmersiveSessions) LiveTimers() int {
	return int(s.live.Load())
}

// CancelAll closes every session.
func (s *ImmersiveSessions) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		s.stop(sess)
		delete(s.sessions, key)
	}
}
