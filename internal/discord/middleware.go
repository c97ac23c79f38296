package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/storage"
	"github.com/keshon/heartflow/pkg/cmd"
)

// withCommandLog runs the command, then records it in the group's command history.
func withCommandLog(log zerolog.Logger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)

			req, rerr := requestOf(inv)
			if rerr != nil || req.storage == nil {
				return err
			}
			ev := req.event
			if e := req.storage.AppendCommandToHistory(ev.GroupID, storage.CommandHistoryRecord{
				GroupID:  ev.GroupID,
				UserID:   ev.SenderID,
				Username: ev.SenderName,
				Command:  c.Name(),
				Param:    inv.Param(),
				Datetime: ev.Timestamp,
			}); e != nil {
				log.Warn().Err(e).Str("guild", ev.GroupID).Str("command", c.Name()).Msg("failed to log command")
			}
			log.Info().Str("action", "command").Str("guild", ev.GroupID).Str("user", ev.SenderName).Str("command", c.Name()).Msg("command executed")
			return err
		})
	}
}

// withPermission lets the command run only for members holding perm in the channel.
func withPermission(perm int64) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			req, err := requestOf(inv)
			if err != nil {
				return err
			}
			if req.perms != nil {
				have, err := req.perms()
				if err != nil {
					return err
				}
				if have&perm == perm || have&discordgo.PermissionAdministrator != 0 {
					return c.Run(ctx, inv)
				}
			}
			return req.reply(&discordgo.MessageEmbed{
				Description: "You don't have permission to use this command.",
				Color:       embedColor,
			})
		})
	}
}
