package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord"
	"apobot/internal/modules/activity"
	"apobot/internal/modules/antispam"
	"apobot/internal/modules/audit"
	"apobot/internal/modules/gatekeeper"
	"apobot/internal/modules/typo"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	session    *discordgo.Session
	client     discord.Client
	audit      *audit.Logger
	antispam   *antispam.Module
	typo       *typo.Module
	activity   *activity.Tracker
	gatekeeper *gatekeeper.Module
	commands   map[string]commandFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	b := newBot(cfg, discord.NewSession(session), logger)
	b.session = session
	return b, nil
}

func newBot(cfg config.Config, client discord.Client, logger *zap.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:    cfg,
		logger: logger,
		client: client,
		audit:  audit.NewLogger(logger.Named("audit")),
		ctx:    ctx,
		cancel: cancel,
	}

	b.audit.SetNotifier(b.notifyModerators)
	b.antispam = antispam.New(cfg.Spam, cfg.GuildID, client, b.audit, logger.Named("antispam"))
	b.typo = typo.New(cfg.Typo, client, logger.Named("typo"))
	b.activity = activity.New(cfg.Activity, client, logger.Named("activity"))
	b.gatekeeper = gatekeeper.New(cfg.Rules, cfg.GuildID, cfg.RoleID, client, logger.Named("gatekeeper"))
	b.registerCommands()
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onMessageReactionRemove)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startActivitySweep()
	return nil
}

// Close stops background work, waiting for it until ctx expires, then
// disconnects from the gateway.
func (b *Bot) Close(ctx context.Context) {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("background work still running at shutdown")
	}

	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) startActivitySweep() {
	if b.cfg.Activity.IntervalMinutes <= 0 {
		return
	}
	interval := time.Duration(b.cfg.Activity.IntervalMinutes) * time.Minute
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				b.grantActiveRole(b.ctx)
			}
		}
	}()
}

func (b *Bot) grantActiveRole(ctx context.Context) {
	report, err := b.activity.Grant(ctx, b.cfg.GuildID, b.cfg.RoleID)
	switch {
	case errors.Is(err, activity.ErrAlreadyRunning):
		b.logger.Info("role assignment already in progress")
	case errors.Is(err, activity.ErrGuildNotFound):
		b.logger.Error("guild not found", zap.String("guild_id", b.cfg.GuildID))
	case errors.Is(err, activity.ErrRoleNotFound):
		b.logger.Error("role not found", zap.String("role_id", b.cfg.RoleID))
	case err != nil:
		b.logger.Error("role assignment failed", zap.Error(err))
	default:
		b.logger.Info("role assignment finished",
			zap.Int("granted", report.Granted),
			zap.Int("already_held", report.AlreadyHeld),
			zap.Int("skipped_channels", report.SkippedChannels),
		)
	}
}

func (b *Bot) notifyModerators(ctx context.Context, entry audit.Entry) error {
	if b.cfg.ModerationChannelID == "" {
		return nil
	}
	_, err := b.client.ChannelMessageSend(ctx, b.cfg.ModerationChannelID, entry.Details)
	return err
}
