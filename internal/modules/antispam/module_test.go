package antispam

import (
	"context"
	"testing"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord/discordtest"
	"apobot/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

type harness struct {
	module *Module
	client *discordtest.Client
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg config.SpamConfig) *harness {
	t.Helper()
	client := discordtest.New()
	client.AddGuild("g1")
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		client.AddChannel("g1", id, discordgo.ChannelTypeGuildText)
	}
	client.AddChannel("g1", "voice", discordgo.ChannelTypeGuildVoice)

	auditLogger := audit.NewLogger(zap.NewNop())
	auditLogger.SetNotifier(func(ctx context.Context, entry audit.Entry) error {
		_, err := client.ChannelMessageSend(ctx, "mod", entry.Details)
		return err
	})

	module := New(cfg, "g1", client, auditLogger, zap.NewNop())
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	module.WithClock(clock)
	return &harness{module: module, client: client, clock: clock}
}

func (h *harness) post(channelID, userID, content string) bool {
	msg := h.client.Post(channelID, userID, content, h.clock.now, false)
	return h.module.HandleMessage(context.Background(), &discordgo.MessageCreate{Message: msg})
}

func TestBurstAcrossChannelsBansOnSixthPost(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())
	channels := []string{"c1", "c2", "c3", "c4", "c1", "c2", "c3"}

	var flagged []int
	for i, channelID := range channels {
		if h.post(channelID, "u1", "hello") {
			flagged = append(flagged, i+1)
		}
		h.clock.Advance(time.Second)
	}

	require.Equal(t, []int{6}, flagged)
	require.Len(t, h.client.Bans, 1)
	require.Equal(t, "u1", h.client.Bans[0].UserID)
	require.Equal(t, "Spamming the same message in multiple channels", h.client.Bans[0].Reason)
	require.Equal(t, 1, h.client.Bans[0].Days)

	require.Len(t, h.client.Deleted["c1"], 2)
	require.Len(t, h.client.Deleted["c2"], 2)
	require.Len(t, h.client.Deleted["c3"], 1)
	require.Len(t, h.client.Deleted["c4"], 1)
	require.Empty(t, h.client.Deleted["voice"])

	require.Len(t, h.client.Sent, 1)
	require.Equal(t, "mod", h.client.Sent[0].ChannelID)
	require.Contains(t, h.client.Sent[0].Content, "for spamming")
}

func TestSingleChannelFloodIsNotSpamWhenDiversityRequired(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())

	for i := 0; i < 10; i++ {
		require.False(t, h.post("c1", "u1", "hello"))
		h.clock.Advance(time.Second)
	}
	require.Empty(t, h.client.Bans)
}

func TestAtThresholdIsNotSpam(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())

	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c5"} {
		require.False(t, h.post(channelID, "u1", "hello"))
	}
	require.Empty(t, h.client.Bans)
	require.Zero(t, h.client.Mutations())
}

func TestDistinctContentIsCountedSeparately(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())

	channels := []string{"c1", "c2", "c3", "c4", "c1", "c2", "c3"}
	for i, channelID := range channels {
		content := "hello"
		if i%2 == 1 {
			content = "Hello"
		}
		require.False(t, h.post(channelID, "u1", content))
	}
	require.Empty(t, h.client.Bans)
}

func TestExpiredOccurrencesAreNotCounted(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())

	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c5"} {
		h.post(channelID, "u1", "hello")
	}
	h.clock.Advance(61 * time.Second)
	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c5"} {
		require.False(t, h.post(channelID, "u1", "hello"))
	}
	require.Empty(t, h.client.Bans)

	oldest, ok := h.module.log.Oldest()
	require.True(t, ok)
	require.False(t, oldest.Before(h.clock.now.Add(-time.Minute)))
}

func TestBurstGuardRejectsSlowRepeats(t *testing.T) {
	cfg := config.DefaultSpamConfig()
	cfg.WindowSeconds = 120
	cfg.BurstSeconds = 60
	h := newHarness(t, cfg)

	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2"} {
		require.False(t, h.post(channelID, "u1", "hello"))
		h.clock.Advance(15 * time.Second)
	}
	require.Empty(t, h.client.Bans)
}

func TestBanFailureStillPurgesAndNotifies(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())
	h.client.Fail("GuildBanCreateWithReason", "u1", discordtest.Forbidden())
	h.client.Fail("ChannelMessagesBulkDelete", "c1", discordtest.Forbidden())

	flagged := false
	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2"} {
		flagged = h.post(channelID, "u1", "hello")
	}

	require.True(t, flagged)
	require.Empty(t, h.client.Bans)
	require.Empty(t, h.client.Deleted["c1"])
	require.Len(t, h.client.Deleted["c2"], 2)
	require.Len(t, h.client.Sent, 1)
}

func TestSecondBurstDoesNotBanTwice(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())
	burst := []string{"c1", "c2", "c3", "c4", "c1", "c2"}

	for _, channelID := range burst {
		h.post(channelID, "u1", "hello")
	}
	require.Len(t, h.client.Bans, 1)

	flagged := false
	for _, channelID := range burst {
		flagged = h.post(channelID, "u1", "hello")
	}
	require.True(t, flagged)
	require.Len(t, h.client.Bans, 1)
	require.Len(t, h.client.Sent, 1)
}

func TestChannelScopeWithoutDiversity(t *testing.T) {
	cfg := config.DefaultSpamConfig()
	cfg.RequireChannelDiversity = false
	cfg.PurgeScope = config.PurgeScopeChannel
	cfg.DuplicateThreshold = 6
	h := newHarness(t, cfg)
	h.client.Post("c2", "u1", "earlier", h.clock.now, false)

	var flagged []int
	for i := 0; i < 7; i++ {
		if h.post("c1", "u1", "buy now") {
			flagged = append(flagged, i+1)
		}
	}

	require.Equal(t, []int{7}, flagged)
	require.Len(t, h.client.Bans, 1)
	require.Len(t, h.client.Deleted["c1"], 7)
	require.Empty(t, h.client.Deleted["c2"])
	require.Zero(t, h.client.CallCount("GuildChannels"))
}

func TestPurgeLimitAndSingleDelete(t *testing.T) {
	cfg := config.DefaultSpamConfig()
	cfg.PurgeLimit = 3
	h := newHarness(t, cfg)
	for i := 0; i < 5; i++ {
		h.client.Post("c5", "u1", "older", h.clock.now, false)
	}
	h.client.Post("c5", "u2", "bystander", h.clock.now, false)

	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2"} {
		h.post(channelID, "u1", "hello")
	}

	require.Len(t, h.client.Deleted["c5"], 3)
	require.Len(t, h.client.Deleted["c3"], 1)
	require.Len(t, h.client.Deleted["c4"], 1)
	require.Equal(t, 2, h.client.CallCount("ChannelMessageDelete"))
}

func TestBotMessagesAreIgnored(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())
	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2", "c3"} {
		msg := h.client.Post(channelID, "bot", "hello", h.clock.now, true)
		require.False(t, h.module.HandleMessage(context.Background(), &discordgo.MessageCreate{Message: msg}))
	}
	require.Zero(t, h.module.log.Len())
}

func TestPunishedUserMessagesAreDropped(t *testing.T) {
	h := newHarness(t, config.DefaultSpamConfig())
	for _, channelID := range []string{"c1", "c2", "c3", "c4", "c1", "c2"} {
		h.post(channelID, "u1", "hello")
	}
	require.Len(t, h.client.Bans, 1)
	require.Zero(t, h.module.log.Len())

	require.True(t, h.post("c3", "u1", "hello"))
	require.True(t, h.post("c4", "u1", "something else"))
	require.Zero(t, h.module.log.Len())
	require.Len(t, h.client.Bans, 1)

	require.False(t, h.post("c1", "u2", "hello"))
	require.Equal(t, 1, h.module.log.Len())
}
