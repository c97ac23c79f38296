// Package discord connects the engagement engine to Discord: guilds are
// groups, the channel a message arrived in is the group's destination.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/mind"
	"github.com/keshon/heartflow/internal/storage"
	"github.com/keshon/heartflow/pkg/cmd"
)

// Bot feeds guild messages to the engine and answers operator commands.
type Bot struct {
	dg       *discordgo.Session
	engine   *mind.Engine
	storage  *storage.Storage
	prefix   string
	log      zerolog.Logger
	commands *cmd.Registry

	mu     sync.RWMutex
	guilds map[string]string // id -> name
	ctx    context.Context
}

// NewSession creates a session without connecting.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return dg, nil
}

func NewBot(dg *discordgo.Session, engine *mind.Engine, store *storage.Storage, log zerolog.Logger) *Bot {
	b := &Bot{
		dg:       dg,
		engine:   engine,
		storage:  store,
		prefix:   engine.Config().CommandPrefix,
		log:      log,
		commands: cmd.NewRegistry(),
		guilds:   make(map[string]string),
		ctx:      context.Background(),
	}
	b.registerCommands()
	return b
}

// Run opens the gateway and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if b.dg == nil {
		return errors.New("discord: no session")
	}
	b.ctx = ctx

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onGuildDelete)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Str("action", "shutdown").Msg("shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	for _, g := range r.Guilds {
		b.guilds[g.ID] = g.Name
	}
	b.mu.Unlock()
	b.syncGroups()
	b.log.Info().Str("action", "ready").Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.mu.Lock()
	_, known := b.guilds[g.ID]
	b.guilds[g.ID] = g.Name
	b.mu.Unlock()
	if !known {
		b.log.Info().Str("action", "guild_join").Str("guild", g.ID).Str("name", g.Name).Msg("bot added to guild")
		b.syncGroups()
	}
}

func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	b.mu.Lock()
	delete(b.guilds, g.ID)
	b.mu.Unlock()
	b.log.Info().Str("action", "guild_leave").Str("guild", g.ID).Msg("bot removed from guild")
	b.syncGroups()
}

func (b *Bot) syncGroups() {
	b.mu.RLock()
	ids := make([]string, 0, len(b.guilds))
	for id := range b.guilds {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	if err := b.engine.Registry().UpdateGroupList(b.ctx, ids); err != nil {
		b.log.Error().Err(err).Str("action", "sync_groups").Msg("failed to update group list")
	}
}

func (b *Bot) guildName(id string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.guilds[id]
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ev, ok := toEvent(s.State.User.ID, m)
	if !ok {
		return
	}

	out, err := b.engine.Handle(b.ctx, ev)
	if err != nil {
		if !errors.Is(err, mind.ErrClosed) {
			b.log.Error().Err(err).Str("guild", ev.GroupID).Str("path", string(out.Path)).Msg("handle message")
		}
		return
	}
	b.log.Debug().Str("guild", ev.GroupID).Str("user", ev.SenderID).Str("path", string(out.Path)).
		Float64("score", out.Update.Score).Float64("threshold", out.Update.Threshold).Msg("message handled")

	if out.Path == mind.PathCommand {
		b.runCommand(s, m, ev)
	}
}
