package gatekeeper

import (
	"context"
	"fmt"
	"sync"

	"apobot/internal/config"
	"apobot/internal/discord"
	"apobot/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Module grants the role to members who accept the rules by reacting with the
// opt-in emoji, and strips it from those who react with the opt-out emoji.
type Module struct {
	mu       sync.Mutex
	sweeping bool
	pending  bool
	rules    config.RulesConfig
	guildID  string
	roleID   string
	client   discord.Client
	logger   *zap.Logger
}

func New(rules config.RulesConfig, guildID, roleID string, client discord.Client, logger *zap.Logger) *Module {
	return &Module{
		rules:   rules,
		guildID: guildID,
		roleID:  roleID,
		client:  client,
		logger:  logger,
	}
}

func (m *Module) HandleReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || !m.bound(r.MessageReaction) {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}

	switch r.Emoji.ID {
	case m.rules.OptInEmojiID:
		m.grant(ctx, r.UserID, r.Member)
	case m.rules.OptOutEmojiID:
		revoked, err := m.Sweep(ctx)
		if err != nil {
			m.logger.Warn("opt-out sweep failed", zap.Error(err))
			return
		}
		m.logger.Info("opt-out sweep complete", zap.Int("revoked", revoked))
	}
}

// HandleReactionRemove revokes the role when a member withdraws the opt-in
// reaction. It does nothing unless revoke_on_unreact is enabled.
func (m *Module) HandleReactionRemove(ctx context.Context, r *discordgo.MessageReactionRemove) {
	if !m.rules.RevokeOnUnreact || r.MessageReaction == nil || !m.bound(r.MessageReaction) {
		return
	}
	if r.Emoji.ID != m.rules.OptInEmojiID {
		return
	}

	member, err := m.client.GuildMember(ctx, m.guildID, r.UserID)
	if err != nil {
		if !discord.IsNotFound(err) {
			m.logger.Warn("couldn't resolve member", zap.String("user_id", r.UserID), zap.Error(err))
		}
		return
	}
	if !discord.HasRole(member, m.roleID) {
		return
	}
	m.revoke(ctx, r.UserID, "unreact")
}

// Sweep removes the role from every member currently reacting with the
// opt-out emoji and returns how many were revoked. A call made while a sweep
// is running returns at once and makes the running sweep scan again.
func (m *Module) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.sweeping {
		m.pending = true
		m.mu.Unlock()
		m.logger.Debug("opt-out sweep already running, rescan queued")
		return 0, nil
	}
	m.sweeping = true
	m.mu.Unlock()

	total := 0
	for {
		revoked, err := m.sweep(ctx)
		total += revoked

		m.mu.Lock()
		if !m.pending || ctx.Err() != nil {
			m.sweeping = false
			m.pending = false
			m.mu.Unlock()
			return total, err
		}
		m.pending = false
		m.mu.Unlock()
	}
}

func (m *Module) sweep(ctx context.Context) (int, error) {
	msg, err := m.client.ChannelMessage(ctx, m.rules.ChannelID, m.rules.MessageID)
	if err != nil {
		switch {
		case discord.IsNotFound(err):
			return 0, fmt.Errorf("rules message %s not found: %w", m.rules.MessageID, err)
		case discord.IsForbidden(err):
			return 0, fmt.Errorf("no access to rules channel %s: %w", m.rules.ChannelID, err)
		}
		return 0, fmt.Errorf("fetch rules message: %w", err)
	}

	var emoji *discordgo.Emoji
	for _, reaction := range msg.Reactions {
		if reaction != nil && reaction.Emoji != nil && reaction.Emoji.ID == m.rules.OptOutEmojiID {
			emoji = reaction.Emoji
			break
		}
	}
	if emoji == nil {
		return 0, nil
	}

	revoked := 0
	afterID := ""
	for {
		users, err := m.client.MessageReactions(ctx, m.rules.ChannelID, m.rules.MessageID, emoji.APIName(), discord.MaxPageSize, afterID)
		if err != nil {
			return revoked, fmt.Errorf("list opt-out reactions: %w", err)
		}
		for _, user := range users {
			afterID = user.ID
			if user.Bot {
				continue
			}
			member, err := m.client.GuildMember(ctx, m.guildID, user.ID)
			if err != nil {
				if !discord.IsNotFound(err) {
					m.logger.Warn("couldn't resolve member", zap.String("user_id", user.ID), zap.Error(err))
				}
				continue
			}
			if discord.HasRole(member, m.roleID) && m.revoke(ctx, user.ID, "opt_out") {
				revoked++
			}
		}
		if len(users) < discord.MaxPageSize {
			return revoked, nil
		}
	}
}

func (m *Module) bound(r *discordgo.MessageReaction) bool {
	if r.MessageID != m.rules.MessageID || r.Emoji.ID == "" {
		return false
	}
	return r.GuildID == "" || r.GuildID == m.guildID
}

func (m *Module) grant(ctx context.Context, userID string, member *discordgo.Member) {
	if member == nil {
		var err error
		member, err = m.client.GuildMember(ctx, m.guildID, userID)
		if err != nil {
			m.logger.Warn("couldn't resolve member", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
	if discord.HasRole(member, m.roleID) {
		return
	}
	if err := m.client.GuildMemberRoleAdd(ctx, m.guildID, userID, m.roleID); err != nil {
		m.logger.Warn("couldn't assign role", zap.String("user_id", userID), zap.Error(err))
		return
	}
	metrics.RoleChanges.WithLabelValues("gatekeeper", "grant").Inc()
	m.logger.Info("assigned role on rules opt-in", zap.String("user_id", userID))
}

func (m *Module) revoke(ctx context.Context, userID, reason string) bool {
	if err := m.client.GuildMemberRoleRemove(ctx, m.guildID, userID, m.roleID); err != nil {
		m.logger.Warn("couldn't remove role", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	metrics.RoleChanges.WithLabelValues("gatekeeper", "revoke").Inc()
	m.logger.Info("removed role", zap.String("user_id", userID), zap.String("reason", reason))
	return true
}
