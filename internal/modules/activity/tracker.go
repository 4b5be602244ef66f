package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord"
	"apobot/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrGuildNotFound  = errors.New("guild not found")
	ErrRoleNotFound   = errors.New("role not found")
	ErrAlreadyRunning = errors.New("role assignment already running")
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Report struct {
	Channels        int
	SkippedChannels int
	ActiveUsers     int
	Granted         int
	AlreadyHeld     int
	Departed        int
	Failed          int
}

// Tracker grants a role to every member who posted within the lookback
// window.
type Tracker struct {
	client      discord.Client
	lookback    time.Duration
	concurrency int
	clock       Clock
	logger      *zap.Logger
	running     atomic.Bool
}

func New(cfg config.ActivityConfig, client discord.Client, logger *zap.Logger) *Tracker {
	concurrency := cfg.ScanConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Tracker{
		client:      client,
		lookback:    time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		concurrency: concurrency,
		clock:       realClock{},
		logger:      logger,
	}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

// Grant scans every text channel for recent authors and grants them roleID.
// Unreadable channels and failed grants are counted, never fatal.
func (t *Tracker) Grant(ctx context.Context, guildID, roleID string) (Report, error) {
	if !t.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer t.running.Store(false)

	if _, err := t.client.Guild(ctx, guildID); err != nil {
		if discord.IsNotFound(err) {
			return Report{}, ErrGuildNotFound
		}
		return Report{}, fmt.Errorf("resolve guild: %w", err)
	}
	role, err := t.findRole(ctx, guildID, roleID)
	if err != nil {
		return Report{}, err
	}
	channels, err := t.client.GuildChannels(ctx, guildID)
	if err != nil {
		return Report{}, fmt.Errorf("list channels: %w", err)
	}

	text := discord.TextChannels(channels)
	cutoff := t.clock.Now().Add(-t.lookback)
	active, skipped := t.collectAuthors(ctx, text, cutoff)

	report := Report{Channels: len(text), SkippedChannels: skipped, ActiveUsers: len(active)}
	for _, user := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t.grant(ctx, guildID, role, user, &report)
	}

	t.logger.Info("role assignment complete",
		zap.String("role", role.Name),
		zap.Int("channels", report.Channels),
		zap.Int("skipped_channels", report.SkippedChannels),
		zap.Int("active_users", report.ActiveUsers),
		zap.Int("granted", report.Granted),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (t *Tracker) findRole(ctx context.Context, guildID, roleID string) (*discordgo.Role, error) {
	roles, err := t.client.GuildRoles(ctx, guildID)
	if err != nil {
		if discord.IsNotFound(err) {
			return nil, ErrGuildNotFound
		}
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for _, role := range roles {
		if role != nil && role.ID == roleID {
			return role, nil
		}
	}
	return nil, ErrRoleNotFound
}

func (t *Tracker) collectAuthors(ctx context.Context, channels []*discordgo.Channel, cutoff time.Time) (map[string]*discordgo.User, int) {
	var (
		mu      sync.Mutex
		active  = make(map[string]*discordgo.User)
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, channel := range channels {
		g.Go(func() error {
			authors, err := t.scanChannel(gctx, channel.ID, cutoff)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped++
				metrics.SkippedChannels.Inc()
				if discord.IsForbidden(err) {
					t.logger.Info("cannot access history, skipping", zap.String("channel", channel.Name), zap.String("channel_id", channel.ID))
				} else {
					t.logger.Warn("history scan failed, skipping", zap.String("channel", channel.Name), zap.String("channel_id", channel.ID), zap.Error(err))
				}
				return nil
			}
			for id, user := range authors {
				if _, seen := active[id]; !seen {
					t.logger.Debug("found active author", zap.String("user_id", id), zap.String("username", user.Username))
				}
				active[id] = user
			}
			return nil
		})
	}
	_ = g.Wait()
	return active, skipped
}

// scanChannel pages forward through the history posted after cutoff.
func (t *Tracker) scanChannel(ctx context.Context, channelID string, cutoff time.Time) (map[string]*discordgo.User, error) {
	authors := make(map[string]*discordgo.User)
	afterID := discord.SnowflakeAt(cutoff)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := t.client.ChannelMessages(ctx, channelID, discord.MaxPageSize, "", afterID)
		if err != nil {
			return nil, err
		}
		for _, msg := range page {
			if discord.SnowflakeLess(afterID, msg.ID) {
				afterID = msg.ID
			}
			if msg.Author == nil || msg.Author.Bot || msg.WebhookID != "" {
				continue
			}
			authors[msg.Author.ID] = msg.Author
		}
		if len(page) < discord.MaxPageSize {
			return authors, nil
		}
	}
}

func (t *Tracker) grant(ctx context.Context, guildID string, role *discordgo.Role, user *discordgo.User, report *Report) {
	member, err := t.client.GuildMember(ctx, guildID, user.ID)
	if err != nil {
		if discord.IsNotFound(err) {
			report.Departed++
			return
		}
		report.Failed++
		t.logger.Warn("couldn't resolve member", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if discord.HasRole(member, role.ID) {
		report.AlreadyHeld++
		return
	}
	if err := t.client.GuildMemberRoleAdd(ctx, guildID, user.ID, role.ID); err != nil {
		report.Failed++
		t.logger.Warn("couldn't assign role", zap.String("user_id", user.ID), zap.String("role", role.Name), zap.Error(err))
		return
	}
	report.Granted++
	metrics.RoleChanges.WithLabelValues("activity", "grant").Inc()
	t.logger.Info("assigned role", zap.String("user_id", user.ID), zap.String("username", user.Username), zap.String("role", role.Name))
}
