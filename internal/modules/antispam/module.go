package antispam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord"
	"apobot/internal/metrics"
	"apobot/internal/modules/audit"
	"apobot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Module bans members who repost the same content across channels in a
// short burst.
type Module struct {
	mu       sync.Mutex
	log      *utils.OccurrenceLog
	punished *otter.Cache[string, time.Time]
	config   config.SpamConfig
	guildID  string
	client   discord.Client
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
}

func New(cfg config.SpamConfig, guildID string, client discord.Client, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return &Module{
		log: utils.NewOccurrenceLog(window),
		punished: otter.Must(&otter.Options[string, time.Time]{
			InitialCapacity:  64,
			ExpiryCalculator: otter.ExpiryWriting[string, time.Time](window),
		}),
		config:  cfg,
		guildID: guildID,
		client:  client,
		audit:   auditLogger,
		logger:  logger,
		clock:   realClock{},
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

// HandleMessage records the message and punishes its author when it
// completes a spam burst. It reports whether the author is being punished,
// in which case no further handling should happen for the message. Messages
// from an author punished within the window are dropped unrecorded.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) bool {
	if msg.Author == nil || msg.Author.Bot {
		return false
	}

	key := utils.Fingerprint(msg.Author.ID, msg.Content)

	m.mu.Lock()
	if _, punished := m.punished.GetIfPresent(msg.Author.ID); punished {
		m.mu.Unlock()
		m.logger.Debug("message from punished user dropped", zap.String("user_id", msg.Author.ID))
		return true
	}
	now := m.clock.Now()
	m.log.Append(key, now, msg.ChannelID)
	live := m.log.Sweep(now)
	stats := m.log.Stats(key)
	if !m.isSpam(stats, now) {
		m.mu.Unlock()
		metrics.OccurrenceRecords.Set(float64(live))
		return false
	}
	m.log.Forget(key)
	m.punished.Set(msg.Author.ID, now)
	m.mu.Unlock()
	metrics.OccurrenceRecords.Set(float64(live - stats.Count))

	metrics.SpamDetections.Inc()
	m.logger.Warn("spam burst detected",
		zap.String("user_id", msg.Author.ID),
		zap.Int("count", stats.Count),
		zap.Int("channels", stats.Channels),
		zap.Duration("span", now.Sub(stats.Earliest)),
	)
	m.punish(ctx, msg)
	return true
}

func (m *Module) isSpam(stats utils.Stats, now time.Time) bool {
	if stats.Count <= m.config.DuplicateThreshold {
		return false
	}
	if m.config.RequireChannelDiversity && stats.Channels <= m.config.ChannelThreshold {
		return false
	}
	return now.Sub(stats.Earliest) < time.Duration(m.config.BurstSeconds)*time.Second
}

// punish bans, purges and reports. A failed step never prevents the next.
func (m *Module) punish(ctx context.Context, msg *discordgo.MessageCreate) {
	user := msg.Author
	if err := m.client.GuildBanCreateWithReason(ctx, m.guildID, user.ID, m.config.BanReason, m.config.BanDeleteDays); err != nil {
		metrics.ModerationFailures.WithLabelValues("ban").Inc()
		if discord.IsForbidden(err) {
			m.logger.Error("ban refused, missing permission", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			m.logger.Error("ban failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	purged := m.purge(ctx, msg)
	m.logger.Info("spammer purged", zap.String("user_id", user.ID), zap.Int("deleted", purged))

	detail := fmt.Sprintf("Banned %s (%s) for spamming.", user.Username, user.ID)
	if err := m.audit.Log(ctx, audit.LevelCrit, m.guildID, user.ID, "anti_spam", detail); err != nil {
		metrics.ModerationFailures.WithLabelValues("notify").Inc()
	}
}

func (m *Module) purge(ctx context.Context, msg *discordgo.MessageCreate) int {
	channelIDs := []string{msg.ChannelID}
	if m.config.PurgeScope == config.PurgeScopeGuild {
		channels, err := m.client.GuildChannels(ctx, m.guildID)
		if err != nil {
			metrics.ModerationFailures.WithLabelValues("purge").Inc()
			m.logger.Error("list channels for purge failed", zap.Error(err))
		} else {
			channelIDs = channelIDs[:0]
			seen := false
			for _, channel := range discord.TextChannels(channels) {
				channelIDs = append(channelIDs, channel.ID)
				seen = seen || channel.ID == msg.ChannelID
			}
			if !seen {
				channelIDs = append(channelIDs, msg.ChannelID)
			}
		}
	}

	total := 0
	for _, channelID := range channelIDs {
		deleted, err := m.purgeChannel(ctx, channelID, msg.Author.ID)
		total += deleted
		if err != nil {
			metrics.ModerationFailures.WithLabelValues("purge").Inc()
			m.logger.Warn("purge failed", zap.String("channel_id", channelID), zap.String("user_id", msg.Author.ID), zap.Error(err))
		}
	}
	metrics.MessagesPurged.Add(float64(total))
	return total
}

// purgeChannel deletes up to PurgeLimit of the user's messages among the
// newest PurgeScan messages of the channel.
func (m *Module) purgeChannel(ctx context.Context, channelID, userID string) (int, error) {
	messages, err := m.client.ChannelMessages(ctx, channelID, m.config.PurgeScan, "", "")
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, m.config.PurgeLimit)
	for _, message := range messages {
		if len(ids) == m.config.PurgeLimit {
			break
		}
		if message.Author != nil && message.Author.ID == userID {
			ids = append(ids, message.ID)
		}
	}

	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		err = m.client.ChannelMessageDelete(ctx, channelID, ids[0])
	default:
		err = m.client.ChannelMessagesBulkDelete(ctx, channelID, ids)
	}
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
