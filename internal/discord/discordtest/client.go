// Package discordtest provides an in-memory discord.Client for tests.
package discordtest

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"apobot/internal/discord"

	"github.com/bwmarrin/discordgo"
)

type RoleChange struct {
	GuildID string
	UserID  string
	RoleID  string
}

type Ban struct {
	GuildID string
	UserID  string
	Reason  string
	Days    int
}

type Sent struct {
	ChannelID string
	Content   string
	ReplyTo   string
}

// Client keeps a single-guild world in memory and records every mutation.
type Client struct {
	mu        sync.Mutex
	seq       int64
	guilds    map[string]*discordgo.Guild
	channels  map[string][]*discordgo.Channel
	messages  map[string][]*discordgo.Message
	members   map[string]*discordgo.Member
	reactions map[string][]*discordgo.User
	failures  map[string]error

	RoleAdds    []RoleChange
	RoleRemoves []RoleChange
	Bans        []Ban
	Deleted     map[string][]string
	Sent        []Sent
	Calls       map[string]int
}

func New() *Client {
	return &Client{
		guilds:    make(map[string]*discordgo.Guild),
		channels:  make(map[string][]*discordgo.Channel),
		messages:  make(map[string][]*discordgo.Message),
		members:   make(map[string]*discordgo.Member),
		reactions: make(map[string][]*discordgo.User),
		failures:  make(map[string]error),
		Deleted:   make(map[string][]string),
		Calls:     make(map[string]int),
	}
}

func Forbidden() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingAccess, Message: "Missing Access"},
	}
}

func NotFound() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown"},
	}
}

func (c *Client) AddGuild(guildID string, roleIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	guild := &discordgo.Guild{ID: guildID, Name: guildID}
	for _, id := range roleIDs {
		guild.Roles = append(guild.Roles, &discordgo.Role{ID: id, Name: id})
	}
	c.guilds[guildID] = guild
}

func (c *Client) AddChannel(guildID, channelID string, kind discordgo.ChannelType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[guildID] = append(c.channels[guildID], &discordgo.Channel{ID: channelID, GuildID: guildID, Name: channelID, Type: kind})
}

func (c *Client) AddMember(guildID, userID string, roleIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[userID] = &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID, Username: userID},
		Roles:   append([]string(nil), roleIDs...),
	}
}

// Post stores a message and returns it; ids grow with at so history paging
// behaves like Discord.
func (c *Client) Post(channelID, authorID, content string, at time.Time, bot bool) *discordgo.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id, _ := strconv.ParseInt(discord.SnowflakeAt(at), 10, 64)
	msg := &discordgo.Message{
		ID:        strconv.FormatInt(id|c.seq, 10),
		ChannelID: channelID,
		Content:   content,
		Timestamp: at,
		Author:    &discordgo.User{ID: authorID, Username: authorID, Bot: bot},
	}
	c.messages[channelID] = append(c.messages[channelID], msg)
	sort.Slice(c.messages[channelID], func(i, j int) bool {
		return less(c.messages[channelID][i].ID, c.messages[channelID][j].ID)
	})
	return msg
}

// React attaches reactions from userIDs with emojiID to the message.
func (c *Client) React(channelID, messageID, emojiID string, userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.messages[channelID] {
		if msg.ID != messageID {
			continue
		}
		var found *discordgo.MessageReactions
		for _, reaction := range msg.Reactions {
			if reaction.Emoji != nil && reaction.Emoji.ID == emojiID {
				found = reaction
			}
		}
		if found == nil {
			found = &discordgo.MessageReactions{Emoji: &discordgo.Emoji{ID: emojiID, Name: "emoji" + emojiID}}
			msg.Reactions = append(msg.Reactions, found)
		}
		found.Count += len(userIDs)
	}
	key := messageID + ":" + emojiID
	for _, id := range userIDs {
		c.reactions[key] = append(c.reactions[key], &discordgo.User{ID: id, Username: id})
	}
	sort.Slice(c.reactions[key], func(i, j int) bool {
		return less(c.reactions[key][i].ID, c.reactions[key][j].ID)
	})
}

// Fail makes op fail with err whenever it targets key. Keys are the guild id
// for guild lookups, the channel id for channel operations, the message id
// for ChannelMessage and the user id for member operations.
func (c *Client) Fail(op, key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op+":"+key] = err
}

func (c *Client) Member(userID string) *discordgo.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[userID]
}

func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[op]
}

func (c *Client) Mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for _, ids := range c.Deleted {
		deleted += len(ids)
	}
	return len(c.RoleAdds) + len(c.RoleRemoves) + len(c.Bans) + deleted
}

func (c *Client) call(op, key string) error {
	c.Calls[op]++
	return c.failures[op+":"+key]
}

func (c *Client) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("Guild", guildID); err != nil {
		return nil, err
	}
	guild, ok := c.guilds[guildID]
	if !ok {
		return nil, NotFound()
	}
	return guild, nil
}

func (c *Client) GuildRoles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildRoles", guildID); err != nil {
		return nil, err
	}
	guild, ok := c.guilds[guildID]
	if !ok {
		return nil, NotFound()
	}
	return guild.Roles, nil
}

func (c *Client) GuildChannels(_ context.Context, guildID string) ([]*discordgo.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildChannels", guildID); err != nil {
		return nil, err
	}
	return append([]*discordgo.Channel(nil), c.channels[guildID]...), nil
}

func (c *Client) GuildMember(_ context.Context, _, userID string) (*discordgo.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildMember", userID); err != nil {
		return nil, err
	}
	member, ok := c.members[userID]
	if !ok {
		return nil, NotFound()
	}
	copied := *member
	copied.Roles = append([]string(nil), member.Roles...)
	return &copied, nil
}

func (c *Client) GuildMemberRoleAdd(_ context.Context, guildID, userID, roleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildMemberRoleAdd", userID); err != nil {
		return err
	}
	member, ok := c.members[userID]
	if !ok {
		return NotFound()
	}
	c.RoleAdds = append(c.RoleAdds, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	for _, id := range member.Roles {
		if id == roleID {
			return nil
		}
	}
	member.Roles = append(member.Roles, roleID)
	return nil
}

func (c *Client) GuildMemberRoleRemove(_ context.Context, guildID, userID, roleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildMemberRoleRemove", userID); err != nil {
		return err
	}
	member, ok := c.members[userID]
	if !ok {
		return NotFound()
	}
	c.RoleRemoves = append(c.RoleRemoves, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	kept := member.Roles[:0]
	for _, id := range member.Roles {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	member.Roles = kept
	return nil
}

func (c *Client) GuildBanCreateWithReason(_ context.Context, guildID, userID, reason string, days int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("GuildBanCreateWithReason", userID); err != nil {
		return err
	}
	c.Bans = append(c.Bans, Ban{GuildID: guildID, UserID: userID, Reason: reason, Days: days})
	return nil
}

func (c *Client) ChannelMessage(_ context.Context, channelID, messageID string) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessage", messageID); err != nil {
		return nil, err
	}
	for _, msg := range c.messages[channelID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, NotFound()
}

func (c *Client) ChannelMessages(_ context.Context, channelID string, limit int, beforeID, afterID string) ([]*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessages", channelID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var page []*discordgo.Message
	all := c.messages[channelID]
	if afterID != "" {
		for _, msg := range all {
			if less(afterID, msg.ID) {
				page = append(page, msg)
			}
			if len(page) == limit {
				break
			}
		}
	} else {
		for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
			if beforeID != "" && !less(all[i].ID, beforeID) {
				continue
			}
			page = append(page, all[i])
		}
		return page, nil
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (c *Client) ChannelMessageDelete(_ context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessageDelete", channelID); err != nil {
		return err
	}
	c.deleteLocked(channelID, []string{messageID})
	return nil
}

func (c *Client) ChannelMessagesBulkDelete(_ context.Context, channelID string, messageIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessagesBulkDelete", channelID); err != nil {
		return err
	}
	c.deleteLocked(channelID, messageIDs)
	return nil
}

func (c *Client) ChannelMessageSend(_ context.Context, channelID, content string) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessageSend", channelID); err != nil {
		return nil, err
	}
	c.Sent = append(c.Sent, Sent{ChannelID: channelID, Content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (c *Client) ChannelMessageSendReply(_ context.Context, channelID, content string, reference *discordgo.MessageReference) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("ChannelMessageSendReply", channelID); err != nil {
		return nil, err
	}
	sent := Sent{ChannelID: channelID, Content: content}
	if reference != nil {
		sent.ReplyTo = reference.MessageID
	}
	c.Sent = append(c.Sent, sent)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (c *Client) MessageReactions(_ context.Context, _, messageID, emojiID string, limit int, afterID string) ([]*discordgo.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.call("MessageReactions", messageID); err != nil {
		return nil, err
	}
	if idx := strings.LastIndex(emojiID, ":"); idx >= 0 {
		emojiID = emojiID[idx+1:]
	}
	var page []*discordgo.User
	for _, user := range c.reactions[messageID+":"+emojiID] {
		if afterID != "" && !less(afterID, user.ID) {
			continue
		}
		page = append(page, user)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (c *Client) deleteLocked(channelID string, ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.messages[channelID][:0]
	for _, msg := range c.messages[channelID] {
		if _, ok := drop[msg.ID]; ok {
			continue
		}
		kept = append(kept, msg)
	}
	c.messages[channelID] = kept
	c.Deleted[channelID] = append(c.Deleted[channelID], ids...)
}

func less(a, b string) bool {
	return discord.SnowflakeLess(a, b)
}
