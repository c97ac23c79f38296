// Package mind decides whether, when and what the bot says in group chats.
//
// Three producers can speak for a group: replies to inbound messages (forced
// mentions, immersive follow-ups and willingness-scored replies), the
// per-group heartbeat and the proactive interjection scheduler. A TurnOwner
// keeps them from sending for the same group at the same time.
package mind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/history"
)

// Deps are the engine's collaborators. Nil fields get null implementations.
type Deps struct {
	Provider  ai.Provider
	History   history.Store
	Sender    Sender
	Persona   PersonaSource
	Policy    GroupPolicy
	Persister Persister
	Limiter   *LLMRateLimiter // guards heartbeat and proactive calls only
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Engine orchestrates the engagement decision for every group.
type Engine struct {
	cfg      Config
	provider ai.Provider
	hist     history.Store
	sender   Sender
	persona  PersonaSource
	policy   GroupPolicy
	limiter  *LLMRateLimiter
	log      zerolog.Logger
	clock    func() time.Time

	store     *Store
	turns     *TurnOwner
	mention   *MentionDetector
	will      *Willingness
	inter     *Interaction
	analyzer  *ContextAnalyzer
	immersive *ImmersiveSessions
	proactive *ProactiveScheduler
	registry  *Registry

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

// New wires an engine. Background work is bound to the engine's own context,
// canceled by Terminate.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.Normalize()
	if deps.Provider == nil {
		deps.Provider = ai.Null{}
	}
	if deps.History == nil {
		deps.History = history.Null{}
	}
	if deps.Sender == nil {
		deps.Sender = NopSender{}
	}
	if deps.Persona == nil {
		deps.Persona = StaticPersona{}
	}
	if deps.Policy == nil {
		deps.Policy = AllowAll{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		provider: deps.Provider,
		hist:     deps.History,
		sender:   deps.Sender,
		persona:  deps.Persona,
		policy:   deps.Policy,
		limiter:  deps.Limiter,
		log:      deps.Logger,
		clock:    deps.Clock,
		turns:    NewTurnOwner(),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.store = NewStore(deps.Persister, e.log)
	e.mention = NewMentionDetector(PersonaKeywords(e.persona, cfg.BotKeywords))
	e.will = NewWillingness(cfg, e.store)
	e.inter = NewInteraction(cfg)
	e.analyzer = NewContextAnalyzer(cfg, e.store, e.hist, e.log)
	e.immersive = NewImmersiveSessions(cfg.ImmersiveTimeout, e.log)
	e.proactive = NewProactiveScheduler(ctx, cfg.ProactiveDelay, e.turns, e.proactiveFire, e.log)
	e.registry = NewRegistry(cfg, e.store, e.policy, e.mention, e.heartbeatTrigger, e.log)
	e.registry.clock = e.clock
	return e
}

func (e *Engine) Config() Config { return e.cfg }
func (e *Engine) Store() *Store { return e.store }
func (e *Engine) Turns() *TurnOwner { return e.turns }
func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Sessions() *ImmersiveSessions { return e.immersive }
func (e *Engine) Scheduler() *ProactiveScheduler { return e.proactive }
func (e *Engine) Willingness() *Willingness { return e.will }
func (e *Engine) Analyzer() *ContextAnalyzer { return e.analyzer }
func (e *Engine) Mention() *MentionDetector { return e.mention }

// Start runs heartbeat flows for the known groups.
func (e *Engine) Start() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.registry.Start(e.ctx)
}

// Handle processes ev and commits the resulting action, if any.
func (e *Engine) Handle(ctx context.Context, ev Event) (Outcome, error) {
	out, err := e.Process(ctx, ev)
	if err != nil {
		return out, err
	}
	if bufferable(out.Path) && !ev.Virtual && e.proactive.Pending(ev.GroupID) {
		e.proactive.Buffer(ev.GroupID, messageLine(ev))
	}
	return out, e.Commit(ctx, out)
}

func bufferable(p Path) bool {
	switch p {
	case PathDenied, PathCommand, PathImmersive:
		return false
	}
	return true
}

// Process decides what to do about one inbound message. It performs no
// sends: a returned Action holds the group's turn until Commit or Release.
func (e *Engine) Process(ctx context.Context, ev Event) (Outcome, error) {
	if e.closed.Load() {
		return Outcome{}, ErrClosed
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock()
	}
	now := ev.Timestamp

	if !e.policy.Allowed(ev.GroupID) {
		return Outcome{Path: PathDenied, Update: StateUpdate{Reason: "group not served"}}, nil
	}
	if ev.HasImage {
		e.turns.MarkImage(ev.GroupID)
	}
	if isCommand(ev.Text, e.cfg.CommandPrefix) {
		dropped := e.immersive.Drop(ev.GroupID, ev.SenderID)
		return Outcome{Path: PathCommand, Update: StateUpdate{ImmersiveDropped: dropped, Reason: "command"}}, nil
	}
	if e.immersive.Armed(ev.GroupID, ev.SenderID) {
		return e.divertImmersive(ctx, ev, now)
	}

	e.observe(ctx, ev)
	if e.mention.Addressed(ev) {
		ev.Mentioned = true
		return e.forcedReply(ctx, ev, now)
	}
	return e.decide(ctx, ev, now)
}

// observe stores the message and feeds it to the group's activity model.
func (e *Engine) observe(ctx context.Context, ev Event) {
	g := e.store.Group(ev.GroupID)
	g.SetDestination(ev.Destination)
	g.NoteMessage(ev.SenderID, ev.Text)
	if ev.Virtual {
		return
	}
	rec := ev.record()
	g.PushRecent(rec)
	if err := e.hist.Append(ctx, HistoryKey(ev.GroupID), rec); err != nil {
		e.log.Warn().Err(err).Str("group", ev.GroupID).Msg("history append failed")
	}
	e.registry.OnMessage(ev)
}

func (e *Engine) divertImmersive(ctx context.Context, ev Event, now time.Time) (Outcome, error) {
	canceled := e.proactive.Cancel(ev.GroupID)
	e.observe(ctx, ev)
	g := e.store.Group(ev.GroupID)
	upd := StateUpdate{Mode: g.Snapshot().Interaction.Mode, ProactiveCanceled: canceled}

	release, err := e.turns.Acquire(ctx, ev.GroupID, TurnImmersive)
	if err != nil {
		return Outcome{Path: PathFailed, Update: upd}, err
	}

	snap, _ := e.immersive.Snapshot(ev.GroupID, ev.SenderID)
	hist := history.Merge(snap, e.analyzer.History(ctx, ev.GroupID))
	req := buildRequest(e.persona.Persona(), hist, "", immersiveInstruction)

	text, ok, err := e.complete(ctx, "immersive", ev.GroupID, req)
	if err != nil || !ok {
		release()
		e.immersive.Drop(ev.GroupID, ev.SenderID)
		upd.ImmersiveDropped = true
		upd.ConsecutiveReset = e.inter.Record(g, ev.SenderID, false, now)
		upd.Reason = "immersive stop"
		if err != nil && ctx.Err() == nil {
			e.log.Warn().Err(err).Str("group", ev.GroupID).Msg("immersive decision failed")
			err = nil
		}
		return Outcome{Path: PathSilent, Update: upd}, err
	}

	upd.Reason = "immersive continue"
	return Outcome{
		Path: PathImmersive,
		Action: &SendAction{
			GroupID:      ev.GroupID,
			Destination:  e.destination(ev),
			Text:         text,
			ReplyTo:      ev.SenderID,
			Trigger:      TriggerImmersive,
			ArmImmersive: true,
		},
		Update: upd,
		turn:   &turnHold{fn: release},
	}, nil
}

func (e *Engine) forcedReply(ctx context.Context, ev Event, now time.Time) (Outcome, error) {
	endForced := e.turns.BeginForced()
	release, err := e.turns.Acquire(ctx, ev.GroupID, TurnForced)
	if err != nil {
		endForced()
		return Outcome{Path: PathFailed}, err
	}
	done := func() {
		release()
		endForced()
	}

	g := e.store.Group(ev.GroupID)
	cc := e.analyzer.Analyze(ctx, ev, now)
	upd := StateUpdate{Mode: cc.Mode, Threshold: e.will.Threshold(ev, cc, now), Reason: "mention"}

	req := buildRequest(e.persona.Persona(), cc.History, "", forcedInstruction)
	text, ok, err := e.complete(ctx, "forced", ev.GroupID, req)
	if err != nil || !ok {
		done()
		upd.ConsecutiveReset = e.inter.Record(g, ev.SenderID, false, now)
		if err != nil && ctx.Err() == nil {
			e.log.Warn().Err(err).Str("group", ev.GroupID).Msg("forced reply failed")
			err = nil
		}
		return Outcome{Path: PathSilent, Update: upd}, err
	}

	return Outcome{
		Path: PathForced,
		Action: &SendAction{
			GroupID:      ev.GroupID,
			Destination:  e.destination(ev),
			Text:         text,
			ReplyTo:      ev.SenderID,
			Trigger:      TriggerForced,
			ArmImmersive: true,
		},
		Update: upd,
		turn:   &turnHold{fn: done},
	}, nil
}

func (e *Engine) decide(ctx context.Context, ev Event, now time.Time) (Outcome, error) {
	g := e.store.Group(ev.GroupID)
	cc := e.analyzer.Analyze(ctx, ev, now)
	gate := e.inter.Evaluate(g, ev, cc.History, now)
	cc.Mode = gate.Mode
	cc.FocusTarget = gate.FocusTarget
	upd := StateUpdate{Mode: gate.Mode}

	skip := func(path Path, reason string) (Outcome, error) {
		upd.ConsecutiveReset = e.inter.Record(g, ev.SenderID, false, now)
		upd.Reason = reason
		e.log.Debug().Str("group", ev.GroupID).Str("path", string(path)).Str("reason", reason).
			Float64("score", upd.Score).Float64("threshold", upd.Threshold).Msg("no reply")
		return Outcome{Path: path, Update: upd}, nil
	}

	if gate.Skip {
		return skip(PathObserved, "observation mode")
	}
	if cc.Consecutive >= e.cfg.MaxConsecutiveResponses {
		return skip(PathSkipped, "consecutive reply limit")
	}

	instruction := replyInstruction
	focus := ""
	kind := TurnReply
	res := e.will.Calculate(ev, cc, now)
	upd.Score, upd.Threshold = res.Score, res.Threshold
	if res.ShouldRespond != nil && !*res.ShouldRespond {
		return skip(PathSkipped, "below threshold")
	}
	if res.RequiresLLM {
		instruction = airReadingInstruction
		focus = decisionLine(res)
		kind = TurnAirReading
	}

	release, ok := e.turns.TryAcquire(ev.GroupID, kind)
	if !ok {
		upd.Reason = "turn busy"
		return Outcome{Path: PathBusy, Update: upd}, nil
	}

	req := buildRequest(e.persona.Persona(), cc.History, focus, instruction)
	text, ok, err := e.complete(ctx, string(kind), ev.GroupID, req)
	if err != nil || !ok {
		release()
		if err != nil {
			if ctx.Err() != nil {
				upd.Reason = "canceled"
				return Outcome{Path: PathFailed, Update: upd}, err
			}
			e.log.Warn().Err(err).Str("group", ev.GroupID).Msg("reply generation failed")
		}
		return skip(PathSilent, "model stayed silent")
	}

	upd.Reason = string(kind)
	return Outcome{
		Path: PathReply,
		Action: &SendAction{
			GroupID:      ev.GroupID,
			Destination:  e.destination(ev),
			Text:         text,
			ReplyTo:      ev.SenderID,
			Trigger:      TriggerWillingness,
			ArmImmersive: true,
		},
		Update: upd,
		turn:   &turnHold{fn: release},
	}, nil
}

// Commit sends out's action and records it. It always releases the turn.
func (e *Engine) Commit(ctx context.Context, out Outcome) error {
	defer out.Release()
	a := out.Action
	if a == nil {
		return nil
	}
	if a.Destination == "" {
		return ErrNoDestination
	}
	if err := e.sender.Send(ctx, a.Destination, a.Text); err != nil {
		e.log.Error().Err(err).Str("group", a.GroupID).Str("trigger", string(a.Trigger)).Msg("send failed")
		return fmt.Errorf("send: %w", err)
	}
	e.afterSend(ctx, *a, e.clock())
	return nil
}

// afterSend records a delivered message and updates every counter it touches.
func (e *Engine) afterSend(ctx context.Context, a SendAction, now time.Time) {
	g := e.store.Group(a.GroupID)
	rec := history.Record{Role: history.RoleAssistant, Content: a.Text, At: now}
	g.PushRecent(rec)
	if err := e.hist.Append(ctx, HistoryKey(a.GroupID), rec); err != nil {
		e.log.Warn().Err(err).Str("group", a.GroupID).Msg("history append failed")
	}

	g.Update(func(r *GroupRecord) { r.Consecutive++ })
	energy := e.will.OnBotReply(a.GroupID, utf8.RuneCountInString(a.Text), now)
	if a.ReplyTo != "" {
		g.AddFatigue(a.ReplyTo, e.cfg.FatigueDecay, now)
	}
	e.inter.Record(g, a.ReplyTo, true, now)
	if a.Trigger == TriggerForced {
		e.inter.EnterFocus(g, a.ReplyTo, now)
	}
	if a.ArmImmersive && a.ReplyTo != "" {
		e.immersive.Arm(a.GroupID, a.ReplyTo, e.analyzer.History(ctx, a.GroupID), now)
	}
	switch a.Trigger {
	case TriggerForced, TriggerWillingness, TriggerImmersive:
		e.proactive.StartOrReset(a.GroupID, a.Destination)
	}
	if err := e.store.Save(a.GroupID); err != nil {
		e.log.Warn().Err(err).Str("group", a.GroupID).Msg("save group state")
	}

	e.log.Info().Str("action", "reply").Str("group", a.GroupID).Str("trigger", string(a.Trigger)).
		Int("len", len(a.Text)).Float64("energy", energy.Energy).Int("streak", energy.Streak).Msg("message sent")
}

// heartbeatTrigger runs the normal decision for a synthesized event and
// sends on its own when the model answers.
func (e *Engine) heartbeatTrigger(ctx context.Context, groupID string, ev Event) (bool, error) {
	release, ok := e.turns.TryAcquire(groupID, TurnHeartbeat)
	if !ok {
		return false, nil
	}
	defer release()
	if e.turns.ForcedInProgress() {
		return false, nil
	}

	now := e.clock()
	dest := e.destination(ev)
	if dest == "" {
		return false, ErrNoDestination
	}
	if !e.limiter.Allow(groupID, now) {
		return false, nil
	}

	cc := e.analyzer.Analyze(ctx, ev, now)
	if cc.Consecutive >= e.cfg.MaxConsecutiveResponses {
		return false, nil
	}
	res := e.will.Calculate(ev, cc, now)
	if res.ShouldRespond != nil && !*res.ShouldRespond {
		return false, nil
	}

	e.limiter.Record(groupID, now)
	req := buildRequest(e.persona.Persona(), cc.History, decisionLine(res), heartbeatInstruction)
	text, ok, err := e.complete(ctx, "heartbeat", groupID, req)
	if err != nil || !ok {
		return false, err
	}
	if e.turns.ForcedInProgress() {
		e.log.Debug().Str("group", groupID).Msg("heartbeat reply dropped: forced reply in progress")
		return false, nil
	}
	// A forced reply that starts after this check still waits on the group
	// turn we hold, so at worst it is sent right after this message.
	if err := e.sender.Send(ctx, dest, text); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	e.afterSend(ctx, SendAction{GroupID: groupID, Destination: dest, Text: text, Trigger: TriggerHeartbeat}, e.clock())
	return true, nil
}

// proactiveFire asks once whether to interject into the buffered chatter.
func (e *Engine) proactiveFire(ctx context.Context, groupID, destination string, lines []string) {
	release, ok := e.turns.TryAcquire(groupID, TurnProactive)
	if !ok {
		return
	}
	defer release()
	if e.turns.ForcedInProgress() {
		return
	}

	now := e.clock()
	if destination == "" {
		destination = e.store.Group(groupID).Destination()
	}
	if destination == "" || !e.limiter.Allow(groupID, now) {
		return
	}
	e.limiter.Record(groupID, now)

	hist := e.analyzer.History(ctx, groupID)
	req := buildRequest(e.persona.Persona(), hist, proactiveBlock(lines), proactiveInstruction)
	text, ok, err := e.complete(ctx, "proactive", groupID, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.log.Warn().Err(err).Str("group", groupID).Msg("proactive decision failed")
		}
		return
	}
	if !ok || e.turns.ForcedInProgress() {
		return
	}
	if err := e.sender.Send(ctx, destination, text); err != nil {
		e.log.Error().Err(err).Str("group", groupID).Msg("proactive send failed")
		return
	}
	e.afterSend(ctx, SendAction{GroupID: groupID, Destination: destination, Text: text, Trigger: TriggerProactive}, e.clock())
}

// complete calls the model with a timeout and interprets the sentinel.
func (e *Engine) complete(ctx context.Context, action, groupID string, req ai.Request) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()
	LogLLMCall(e.log, action, req, map[string]string{"group": groupID})
	raw, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("%s completion: %w", action, err)
	}
	text, ok := ai.ParseDecision(raw)
	return text, ok, nil
}

func (e *Engine) destination(ev Event) string {
	if ev.Destination != "" {
		return ev.Destination
	}
	return e.store.Group(ev.GroupID).Destination()
}

// Terminate stops every flow, cancels timers and tasks and saves all state.
func (e *Engine) Terminate(ctx context.Context) error {
	var err error
	e.once.Do(func() {
		e.closed.Store(true)
		e.immersive.CancelAll()
		e.proactive.CancelAll()
		stopErr := e.registry.StopAll(ctx)
		e.cancel()
		e.proactive.Wait()
		err = errors.Join(stopErr, e.store.SaveAll())
	})
	return err
}
