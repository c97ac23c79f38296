package mind

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/keshon/heartflow/internal/history"
)

var (
	ErrNoDestination  = errors.New("mind: group has no known destination")
	ErrTurnBusy       = errors.New("mind: another reply is in flight")
	ErrRateLimited    = errors.New("mind: llm call budget exhausted")
	ErrClosed         = errors.New("mind: engine is closed")
	ErrGroupDenied    = errors.New("mind: group is not served")
	ErrThresholdRange = errors.New("mind: threshold out of range [0,1]")
)

// Event is one inbound group message, already normalized by the transport.
type Event struct {
	MessageID   string
	GroupID     string
	SenderID    string
	SenderName  string
	Text        string // display text, mentions resolved
	RawText     string // text as received
	Mentioned   bool   // the transport saw an explicit mention of the bot
	HasImage    bool
	Destination string // where replies to this group go
	Timestamp   time.Time
	Virtual     bool // synthesized by a heartbeat, never stored
}

func (e Event) record() history.Record {
	return history.Record{
		ID:      e.MessageID,
		Role:    history.RoleUser,
		UserID:  e.SenderID,
		Name:    e.SenderName,
		Content: e.Text,
		At:      e.Timestamp,
	}
}

// Trigger names the path that produced a reply.
type Trigger string

const (
	TriggerForced      Trigger = "forced"
	TriggerImmersive   Trigger = "immersive"
	TriggerWillingness Trigger = "willingness"
	TriggerHeartbeat   Trigger = "heartbeat"
	TriggerProactive   Trigger = "proactive"
)

// Path is the branch Process took for an event.
type Path string

const (
	PathDenied    Path = "denied"
	PathCommand   Path = "command"
	PathImmersive Path = "immersive"
	PathForced    Path = "forced"
	PathObserved  Path = "observed"  // observation mode, stored only
	PathSkipped   Path = "skipped"   // willingness or consecutive limit said no
	PathBusy      Path = "busy"      // another reply holds the turn
	PathSilent    Path = "silent"    // the model chose not to answer
	PathReply     Path = "reply"
	PathFailed    Path = "failed"
)

// SendAction is the single outbound message a decision produced.
type SendAction struct {
	GroupID     string
	Destination string
	Text        string
	ReplyTo     string // user the reply addresses, empty for background replies
	Trigger     Trigger
	// ArmImmersive asks the committer to open a follow-up window for ReplyTo.
	ArmImmersive bool
}

// StateUpdate summarizes what the decision changed or measured.
type StateUpdate struct {
	Mode              Mode
	Score             float64
	Threshold         float64
	ConsecutiveReset  bool
	ImmersiveDropped  bool
	ProactiveCanceled bool
	Reason            string
}

// Outcome is what Process returns: zero or one SendAction plus the state update.
// A non-nil Action holds the group's turn until Release (or Commit) is called.
type Outcome struct {
	Path   Path
	Action *SendAction
	Update StateUpdate
	turn   *turnHold
}

// Release gives the turn back without sending. Safe to call more than once.
func (o Outcome) Release() {
	if o.turn != nil {
		o.turn.release()
	}
}

type turnHold struct {
	once sync.Once
	fn   func()
}

func (h *turnHold) release() {
	h.once.Do(h.fn)
}

// Sender delivers text to a destination.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, destination, text string) error

func (f SenderFunc) Send(ctx context.Context, destination, text string) error {
	return f(ctx, destination, text)
}

// NopSender drops everything.
type NopSender struct{}

func (NopSender) Send(context.Context, string, string) error { return nil }

// GroupPolicy decides which groups the engine serves.
type GroupPolicy interface {
	Allowed(groupID string) bool
}

// AllowAll serves every group.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }

// Persona is the bot's identity as the engine needs it.
type Persona struct {
	Name         string
	SystemPrompt string
	Keywords     []string // names the bot answers to
}

// PersonaSource yields the current persona. Implementations may reload it at runtime.
type PersonaSource interface {
	Persona() Persona
}

// StaticPersona is a fixed PersonaSource.
type StaticPersona Persona

func (p StaticPersona) Persona() Persona { return Persona(p) }

func isCommand(text, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(text), prefix)
}
