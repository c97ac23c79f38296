package mind

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const virtualUser = "virtual_user"

// HeartbeatTrigger runs one decision for a synthesized event and reports whether it sent.
type HeartbeatTrigger func(ctx context.Context, groupID string, ev Event) (sent bool, err error)

// FlowStats is the read-only status of one group's heartbeat.
type FlowStats struct {
	GroupID            string    `json:"group_id"`
	HasFlow            bool      `json:"has_flow"`
	HasDestination     bool      `json:"has_destination"`
	Focus              float64   `json:"focus"`
	AtBoost            float64   `json:"at_boost"`
	EffectiveFocus     float64   `json:"effective_focus"`
	MessagesLastMinute int       `json:"messages_last_minute"`
	CooldownRemaining  float64   `json:"cooldown_remaining"` // seconds
	LastTriggerTS      float64   `json:"last_trigger_ts"`    // epoch seconds, 0 if never
	LastTrigger        time.Time `json:"-"`
	Threshold          float64   `json:"threshold"`
}

// HeartbeatFlow periodically checks one group's activity and, when it is
// high enough and the cooldown has passed, asks the trigger to speak up.
type HeartbeatFlow struct {
	GroupID string

	interval time.Duration
	cooldown time.Duration
	freq     *FrequencyControl
	mention  *MentionDetector
	trigger  HeartbeatTrigger
	log      zerolog.Logger
	clock    func() time.Time

	mu          sync.Mutex
	lastTrigger time.Time
	lastMsgID   string
	lastSender  string
	lastName    string
	lastText    string
	lastAt      time.Time
	destination string
}

func NewHeartbeatFlow(groupID string, cfg Config, freq *FrequencyControl, mention *MentionDetector, trigger HeartbeatTrigger, log zerolog.Logger) *HeartbeatFlow {
	cfg = cfg.Normalize()
	if freq == nil {
		freq = NewFrequencyControl(cfg.AtBoostValue, cfg.HeartbeatThreshold)
	}
	return &HeartbeatFlow{
		GroupID:  groupID,
		interval: cfg.HeartbeatInterval,
		cooldown: cfg.Cooldown,
		freq:     freq,
		mention:  mention,
		trigger:  trigger,
		log:      log.With().Str("group", groupID).Logger(),
		clock:    time.Now,
	}
}

// Frequency exposes the flow's activity model.
func (f *HeartbeatFlow) Frequency() *FrequencyControl { return f.freq }

// Run ticks until ctx is canceled.
func (f *HeartbeatFlow) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.log.Debug().Dur("interval", f.interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			f.log.Debug().Msg("heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
			f.Tick(ctx, f.clock())
		}
	}
}

// Tick runs one heartbeat check. Failures are logged and never escape.
func (f *HeartbeatFlow) Tick(ctx context.Context, now time.Time) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Msg("heartbeat tick panicked")
			fired = false
		}
	}()

	if !f.freq.ShouldTrigger(now) {
		return false
	}
	f.mu.Lock()
	cooling := !f.lastTrigger.IsZero() && now.Sub(f.lastTrigger) < f.cooldown
	f.mu.Unlock()
	if cooling {
		return false
	}
	return f.fire(ctx, now)
}

// TriggerNow fires regardless of activity and cooldown.
func (f *HeartbeatFlow) TriggerNow(ctx context.Context, now time.Time) bool {
	return f.fire(ctx, now)
}

func (f *HeartbeatFlow) fire(ctx context.Context, now time.Time) bool {
	if f.trigger == nil {
		return false
	}
	ev := f.virtualEvent(now)
	sent, err := f.trigger(ctx, f.GroupID, ev)
	if err != nil && !errors.Is(err, context.Canceled) {
		f.log.Warn().Err(err).Msg("heartbeat trigger failed")
	}
	if !sent {
		return false
	}
	f.mu.Lock()
	f.lastTrigger = now
	f.mu.Unlock()
	f.log.Info().Str("action", "heartbeat_reply").Msg("heartbeat sent a message")
	return true
}

// OnMessage feeds an inbound message into the activity model.
func (f *HeartbeatFlow) OnMessage(ev Event) {
	f.freq.UpdateMessageRate(ev.Timestamp, ev.SenderID)
	if f.mention.Mentioned(ev) {
		f.freq.BoostOnAt()
	}
	f.mu.Lock()
	f.lastMsgID = ev.MessageID
	f.lastSender = ev.SenderID
	f.lastName = ev.SenderName
	f.lastText = ev.Text
	f.lastAt = ev.Timestamp
	if ev.Destination != "" {
		f.destination = ev.Destination
	}
	f.mu.Unlock()
}

func (f *HeartbeatFlow) virtualEvent(now time.Time) Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := Event{
		MessageID:   f.lastMsgID,
		GroupID:     f.GroupID,
		SenderID:    f.lastSender,
		SenderName:  f.lastName,
		Text:        f.lastText,
		RawText:     f.lastText,
		Destination: f.destination,
		Timestamp:   f.lastAt,
		Virtual:     true,
	}
	if ev.SenderID == "" {
		ev.SenderID = virtualUser
	}
	if ev.Text == "" {
		ev.Text = "[the group is chatting]"
		ev.RawText = ev.Text
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	return ev
}

// Stats returns the flow's status at now without changing it.
func (f *HeartbeatFlow) Stats(now time.Time) FlowStats {
	fs := f.freq.Peek(now)
	f.mu.Lock()
	defer f.mu.Unlock()
	st := FlowStats{
		GroupID:            f.GroupID,
		HasFlow:            true,
		HasDestination:     f.destination != "",
		Focus:              fs.Focus,
		AtBoost:            fs.AtBoost,
		EffectiveFocus:     fs.EffectiveFocus,
		MessagesLastMinute: fs.MessagesLastMinute,
		Threshold:          fs.Threshold,
		LastTrigger:        f.lastTrigger,
	}
	if !f.lastTrigger.IsZero() {
		st.LastTriggerTS = float64(f.lastTrigger.UnixNano()) / 1e9
		if rem := f.cooldown - now.Sub(f.lastTrigger); rem > 0 {
			st.CooldownRemaining = rem.Seconds()
		}
	}
	return st
}

// SetDestination sets where heartbeat messages go when no message was seen yet.
func (f *HeartbeatFlow) SetDestination(d string) {
	if d == "" {
		return
	}
	f.mu.Lock()
	f.destination = d
	f.mu.Unlock()
}
