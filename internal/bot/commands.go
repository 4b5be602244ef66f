package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type commandFunc func(ctx context.Context, msg *discordgo.MessageCreate)

func (b *Bot) registerCommands() {
	b.commands = map[string]commandFunc{
		"assignroles": b.cmdAssignRoles,
	}
}

// parseCommand extracts the command name from a prefixed message. Names are
// case sensitive and trailing arguments are ignored.
func parseCommand(prefix, content string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 || !strings.HasPrefix(content[len(prefix):], fields[0]) {
		return "", false
	}
	return fields[0], true
}

func (b *Bot) dispatchCommand(ctx context.Context, msg *discordgo.MessageCreate) {
	name, ok := parseCommand(b.cfg.CommandPrefix, msg.Content)
	if !ok {
		return
	}
	cmd, ok := b.commands[name]
	if !ok {
		return
	}
	b.logger.Info("command invoked", zap.String("command", name), zap.String("user_id", msg.Author.ID), zap.String("channel_id", msg.ChannelID))
	cmd(ctx, msg)
}

func (b *Bot) cmdAssignRoles(ctx context.Context, msg *discordgo.MessageCreate) {
	b.grantActiveRole(ctx)
	if _, err := b.client.ChannelMessageSend(ctx, msg.ChannelID, "Role assignment process initiated."); err != nil {
		b.logger.Warn("command reply failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
	}
}
