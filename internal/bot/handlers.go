package bot

import (
	"context"
	"time"

	"apobot/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	b.handleMessage(b.ctx, msg)
}

func (b *Bot) onMessageReactionAdd(_ *discordgo.Session, event *discordgo.MessageReactionAdd) {
	b.gatekeeper.HandleReactionAdd(b.ctx, event)
}

func (b *Bot) onMessageReactionRemove(_ *discordgo.Session, event *discordgo.MessageReactionRemove) {
	b.gatekeeper.HandleReactionRemove(b.ctx, event)
}

// handleMessage runs the moderation pipeline for one message: spam first,
// then typo corrections, then commands. A message that got its author banned
// goes no further.
func (b *Bot) handleMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" || msg.GuildID != b.cfg.GuildID {
		return
	}

	start := time.Now()
	defer func() {
		metrics.MessageProcessingTime.Observe(time.Since(start).Seconds())
	}()
	metrics.MessagesProcessed.Inc()

	if b.antispam.HandleMessage(ctx, msg) {
		return
	}
	b.typo.HandleMessage(ctx, msg)
	b.dispatchCommand(ctx, msg)
}
