// Package discord holds the narrow slice of the Discord API the moderation
// modules depend on, so they can be exercised without a live gateway.
package discord

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// MaxPageSize is the largest page Discord serves for message and reaction
// listings.
const MaxPageSize = 100

type Client interface {
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	GuildMemberRoleAdd(ctx context.Context, guildID, userID, roleID string) error
	GuildMemberRoleRemove(ctx context.Context, guildID, userID, roleID string) error
	GuildBanCreateWithReason(ctx context.Context, guildID, userID, reason string, days int) error

	ChannelMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	ChannelMessages(ctx context.Context, channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error)
	ChannelMessageDelete(ctx context.Context, channelID, messageID string) error
	ChannelMessagesBulkDelete(ctx context.Context, channelID string, messageIDs []string) error
	ChannelMessageSend(ctx context.Context, channelID, content string) (*discordgo.Message, error)
	ChannelMessageSendReply(ctx context.Context, channelID, content string, reference *discordgo.MessageReference) (*discordgo.Message, error)
	MessageReactions(ctx context.Context, channelID, messageID, emojiID string, limit int, afterID string) ([]*discordgo.User, error)
}

// Session adapts a gateway session to Client.
type Session struct {
	s *discordgo.Session
}

func NewSession(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (c *Session) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if c.s.State != nil {
		if guild, err := c.s.State.Guild(guildID); err == nil {
			return guild, nil
		}
	}
	return c.s.Guild(guildID, discordgo.WithContext(ctx))
}

func (c *Session) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return c.s.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func (c *Session) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return c.s.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (c *Session) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	return c.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (c *Session) GuildMemberRoleAdd(ctx context.Context, guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (c *Session) GuildMemberRoleRemove(ctx context.Context, guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (c *Session) GuildBanCreateWithReason(ctx context.Context, guildID, userID, reason string, days int) error {
	return c.s.GuildBanCreateWithReason(guildID, userID, reason, days, discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return c.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessages(ctx context.Context, channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error) {
	return c.s.ChannelMessages(channelID, limit, beforeID, afterID, "", discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessageDelete(ctx context.Context, channelID, messageID string) error {
	return c.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessagesBulkDelete(ctx context.Context, channelID string, messageIDs []string) error {
	return c.s.ChannelMessagesBulkDelete(channelID, messageIDs, discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessageSend(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return c.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
}

func (c *Session) ChannelMessageSendReply(ctx context.Context, channelID, content string, reference *discordgo.MessageReference) (*discordgo.Message, error) {
	return c.s.ChannelMessageSendReply(channelID, content, reference, discordgo.WithContext(ctx))
}

func (c *Session) MessageReactions(ctx context.Context, channelID, messageID, emojiID string, limit int, afterID string) ([]*discordgo.User, error) {
	return c.s.MessageReactions(channelID, messageID, emojiID, limit, "", afterID, discordgo.WithContext(ctx))
}

// IsForbidden reports whether Discord refused the request for lack of access
// or permissions.
func IsForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether the target guild, role, member, channel or
// message does not exist.
func IsNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// TextChannels keeps the channels that carry member messages.
func TextChannels(channels []*discordgo.Channel) []*discordgo.Channel {
	out := make([]*discordgo.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		out = append(out, channel)
	}
	return out
}

const discordEpochMillis = 1420070400000

// SnowflakeAt returns the smallest snowflake generated at t, suitable as an
// afterID for history queries.
func SnowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMillis
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}

// SnowflakeLess orders snowflakes numerically; ids of different lengths do
// not sort lexically.
func SnowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func HasRole(member *discordgo.Member, roleID string) bool {
	if member == nil {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}
