package bot

import (
	"context"
	"testing"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord/discordtest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const initiated = "Role assignment process initiated."

func newTestBot(t *testing.T) (*Bot, *discordtest.Client) {
	t.Helper()
	client := discordtest.New()
	client.AddGuild("g1", "member")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		client.AddChannel("g1", id, discordgo.ChannelTypeGuildText)
	}
	rules := client.Post("rules", "admin", "Be nice.", time.Now().Add(-365*24*time.Hour), false)

	cfg := config.DefaultConfig()
	cfg.GuildID = "g1"
	cfg.RoleID = "member"
	cfg.ModerationChannelID = "mod"
	cfg.Rules = config.RulesConfig{ChannelID: "rules", MessageID: rules.ID, OptInEmojiID: "in", OptOutEmojiID: "out"}

	b := newBot(cfg, client, zap.NewNop())
	t.Cleanup(func() { b.Close(context.Background()) })
	return b, client
}

func post(b *Bot, client *discordtest.Client, guildID, channelID, userID, content string) {
	msg := client.Post(channelID, userID, content, time.Now(), false)
	msg.GuildID = guildID
	b.handleMessage(context.Background(), &discordgo.MessageCreate{Message: msg})
}

func sentTo(client *discordtest.Client, channelID, content string) int {
	n := 0
	for _, sent := range client.Sent {
		if sent.ChannelID == channelID && sent.Content == content {
			n++
		}
	}
	return n
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		name    string
		ok      bool
	}{
		{"!assignroles", "assignroles", true},
		{"!assignroles now please", "assignroles", true},
		{"! assignroles", "", false},
		{"assignroles", "", false},
		{"!", "", false},
		{"?assignroles", "", false},
	}
	for _, tt := range tests {
		name, ok := parseCommand("!", tt.content)
		if name != tt.name || ok != tt.ok {
			t.Fatalf("parseCommand(%q) = %q, %v; want %q, %v", tt.content, name, ok, tt.name, tt.ok)
		}
	}
}

func TestAssignRolesCommand(t *testing.T) {
	b, client := newTestBot(t)
	client.AddMember("g1", "u1")
	client.AddMember("g1", "u2")
	client.Post("c2", "u2", "morning", time.Now().Add(-time.Hour), false)

	post(b, client, "g1", "c1", "u1", "!assignroles")

	require.Len(t, client.RoleAdds, 2)
	require.Equal(t, 1, sentTo(client, "c1", initiated))
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	b, client := newTestBot(t)

	post(b, client, "g1", "c1", "u1", "!AssignRoles")
	post(b, client, "g1", "c1", "u1", "!help")

	require.Empty(t, client.Sent)
	require.Zero(t, client.CallCount("GuildChannels"))
}

func TestTypoAndCommandOnSameMessage(t *testing.T) {
	b, client := newTestBot(t)
	client.AddMember("g1", "u1")

	post(b, client, "g1", "c1", "u1", "!assignroles for my voightlander friends")

	require.Len(t, client.Sent, 2)
	require.Equal(t, "Did you mean **Voigtländer** (without the 'h')?", client.Sent[0].Content)
	require.Equal(t, initiated, client.Sent[1].Content)
}

func TestSpamBanStopsCommandProcessing(t *testing.T) {
	b, client := newTestBot(t)
	client.AddMember("g1", "u1")

	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2"} {
		post(b, client, "g1", channelID, "u1", "!assignroles")
	}

	require.Len(t, client.Bans, 1)

	post(b, client, "g1", "c3", "u1", "!assignroles")
	post(b, client, "g1", "c4", "u1", "my voightlander")

	require.Len(t, client.Bans, 1)
	require.Equal(t, 5, sentTo(client, "c1", initiated)+sentTo(client, "c2", initiated)+sentTo(client, "c3", initiated)+sentTo(client, "c4", initiated))
	require.Equal(t, 1, sentTo(client, "mod", "Banned u1 (u1) for spamming."))
	require.Len(t, client.Sent, 6)
}

func TestMessagesOutsideTheGuildAreIgnored(t *testing.T) {
	b, client := newTestBot(t)

	post(b, client, "", "dm", "u1", "!assignroles voightlander")
	post(b, client, "g2", "c1", "u1", "!assignroles voightlander")
	msg := client.Post("c1", "bot", "!assignroles", time.Now(), true)
	msg.GuildID = "g1"
	b.handleMessage(context.Background(), &discordgo.MessageCreate{Message: msg})

	require.Empty(t, client.Sent)
	require.Zero(t, client.Mutations())
}

func TestReactionRouting(t *testing.T) {
	b, client := newTestBot(t)
	client.AddMember("g1", "u1")

	b.onMessageReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID:    "u1",
		MessageID: b.cfg.Rules.MessageID,
		ChannelID: "rules",
		GuildID:   "g1",
		Emoji:     discordgo.Emoji{ID: "in", Name: "yes"},
	}})

	require.Equal(t, []discordtest.RoleChange{{GuildID: "g1", UserID: "u1", RoleID: "member"}}, client.RoleAdds)
}
