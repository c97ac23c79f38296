package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/keshon/heartflow/internal/mind"
	"github.com/keshon/heartflow/internal/storage"
	"github.com/keshon/heartflow/pkg/cmd"
	"github.com/keshon/heartflow/pkg/util"
)

const (
	embedColor    = 0x5865F2
	historyLayout = "YYYY-MM-DD hh:mm"
)

// request is the Invocation data of a message command.
type request struct {
	engine  *mind.Engine
	storage *storage.Storage
	guild   string
	event   mind.Event
	reply   func(*discordgo.MessageEmbed) error
	perms   func() (int64, error)
}

func requestOf(inv *cmd.Invocation) (*request, error) {
	req, ok := inv.Data.(*request)
	if !ok || req == nil {
		return nil, fmt.Errorf("command %s: unexpected invocation data %T", inv.Name, inv.Data)
	}
	return req, nil
}

func (b *Bot) registerCommands() {
	b.commands.Register(statusCommand{}, withCommandLog(b.log))
	b.commands.Register(historyCommand{}, withCommandLog(b.log))
	b.commands.Register(triggerCommand{}, withCommandLog(b.log), withPermission(discordgo.PermissionManageServer))
	b.commands.Register(helpCommand{registry: b.commands})
}

func (b *Bot) runCommand(s *discordgo.Session, m *discordgo.MessageCreate, ev mind.Event) {
	name, args := parseCommand(ev.Text, b.prefix)
	c := b.commands.Get(name)
	if c == nil {
		return
	}
	req := &request{
		engine:  b.engine,
		storage: b.storage,
		guild:   b.guildName(ev.GroupID),
		event:   ev,
		reply: func(e *discordgo.MessageEmbed) error {
			_, err := s.ChannelMessageSendEmbed(m.ChannelID, e)
			return err
		},
		perms: func() (int64, error) {
			return s.UserChannelPermissions(ev.SenderID, m.ChannelID)
		},
	}
	inv := &cmd.Invocation{Name: name, Args: args, Data: req}
	if err := c.Run(b.ctx, inv); err != nil {
		b.log.Error().Err(err).Str("guild", ev.GroupID).Str("command", name).Msg("error running command")
		_ = req.reply(&discordgo.MessageEmbed{Description: fmt.Sprintf("Error running command: %v", err), Color: embedColor})
	}
}

// parseCommand splits "!name a b" into a lowercase name and its arguments.
func parseCommand(text, prefix string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), prefix))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

type statusCommand struct{}

func (statusCommand) Name() string        { return "gcstatus" }
func (statusCommand) Description() string { return "Show this group's chat engagement status" }

func (statusCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	req, err := requestOf(inv)
	if err != nil {
		return err
	}
	return req.reply(statusEmbed(req.guild, req.engine.Status(req.event.GroupID), time.Now()))
}

type triggerCommand struct{}

func (triggerCommand) Name() string        { return "gctrigger" }
func (triggerCommand) Description() string { return "Run the heartbeat now" }

func (triggerCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := requestOf(inv)
	if err != nil {
		return err
	}
	sent, err := req.engine.Registry().TriggerNow(ctx, req.event.GroupID)
	return req.reply(triggerEmbed(sent, err))
}

type historyCommand struct{}

func (historyCommand) Name() string        { return "gchistory" }
func (historyCommand) Description() string { return "List recent operator commands" }

func (historyCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	req, err := requestOf(inv)
	if err != nil {
		return err
	}
	if req.storage == nil {
		return errors.New("command history is not stored")
	}
	recs, err := req.storage.FetchCommandHistory(req.event.GroupID)
	if err != nil {
		return err
	}
	return req.reply(historyEmbed(recs))
}

type helpCommand struct {
	registry *cmd.Registry
}

func (helpCommand) Name() string        { return "gchelp" }
func (helpCommand) Description() string { return "List the chat engagement commands" }

func (h helpCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	req, err := requestOf(inv)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, c := range h.registry.GetAll() {
		fmt.Fprintf(&sb, "`%s` %s\n", c.Name(), c.Description())
	}
	return req.reply(&discordgo.MessageEmbed{Title: "Commands", Description: sb.String(), Color: embedColor})
}

func statusEmbed(guild string, st mind.GroupStatus, now time.Time) *discordgo.MessageEmbed {
	title := "Group chat status"
	if guild != "" {
		title += ": " + guild
	}

	flow := "stopped"
	if st.Running {
		flow = "running"
	} else if !st.HasFlow {
		flow = "none"
	}
	last := "never"
	if ago, ok := st.SinceLastTrigger(now); ok {
		last = humanize.RelTime(now.Add(-ago), now, "ago", "from now")
	}
	cooldown := "ready"
	if st.CooldownRemaining > 0 {
		cooldown = time.Duration(st.CooldownRemaining * float64(time.Second)).Round(time.Second).String()
	}
	owner := st.TurnOwner
	if owner == "" {
		owner = "free"
	}

	return &discordgo.MessageEmbed{
		Title: title,
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Heartbeat", Value: flow, Inline: true},
			{Name: "Mode", Value: string(st.Mode), Inline: true},
			{Name: "Turn", Value: owner, Inline: true},
			{Name: "Focus", Value: fmt.Sprintf("%.2f (boost %.2f, effective %.2f)", st.Focus, st.AtBoost, st.EffectiveFocus)},
			{Name: "Threshold", Value: fmt.Sprintf("%.2f", st.Threshold), Inline: true},
			{Name: "Messages / min", Value: humanize.Comma(int64(st.MessagesLastMinute)), Inline: true},
			{Name: "Cooldown", Value: cooldown, Inline: true},
			{Name: "Last trigger", Value: last, Inline: true},
			{Name: "Energy", Value: fmt.Sprintf("%.0f%%", st.Energy*100), Inline: true},
			{Name: "Streak", Value: humanize.Comma(int64(st.Streak)), Inline: true},
			{Name: "Consecutive replies", Value: humanize.Comma(int64(st.Consecutive)), Inline: true},
			{Name: "Proactive task", Value: yesNo(st.ProactivePending), Inline: true},
			{Name: "Destination", Value: yesNo(st.HasDestination), Inline: true},
		},
		Timestamp: now.Format(time.RFC3339),
	}
}

func triggerEmbed(sent bool, err error) *discordgo.MessageEmbed {
	desc := "Heartbeat ran, nothing to say."
	switch {
	case err != nil:
		desc = "Heartbeat failed: " + err.Error()
	case sent:
		desc = "Heartbeat sent a message."
	}
	return &discordgo.MessageEmbed{Title: "Heartbeat", Description: desc, Color: embedColor}
}

func historyEmbed(recs []storage.CommandHistoryRecord) *discordgo.MessageEmbed {
	if len(recs) == 0 {
		return &discordgo.MessageEmbed{Title: "Command history", Description: "No commands yet.", Color: embedColor}
	}
	var sb strings.Builder
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		fmt.Fprintf(&sb, "`%s` **%s** %s", util.FormatDateTpl(r.Datetime.UnixMilli(), historyLayout, nil), r.Username, r.Command)
		if r.Param != "" {
			fmt.Fprintf(&sb, " `%s`", r.Param)
		}
		sb.WriteString("\n")
	}
	return &discordgo.MessageEmbed{Title: "Command history", Description: sb.String(), Color: embedColor}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
