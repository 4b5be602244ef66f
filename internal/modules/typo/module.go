package typo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"apobot/internal/config"
	"apobot/internal/discord"
	"apobot/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Module replies to known brand misspellings, at most once per user per
// cooldown.
type Module struct {
	mu          sync.Mutex
	client      discord.Client
	corrections []config.Correction
	cooldown    time.Duration
	limiters    map[string]*rate.Limiter
	clock       Clock
	logger      *zap.Logger
}

func New(cfg config.TypoConfig, client discord.Client, logger *zap.Logger) *Module {
	corrections := make([]config.Correction, 0, len(cfg.Corrections))
	for _, c := range cfg.Corrections {
		if c.Pattern == "" {
			continue
		}
		corrections = append(corrections, config.Correction{Pattern: fold(c.Pattern), Correction: c.Correction})
	}
	return &Module{
		client:      client,
		corrections: corrections,
		cooldown:    time.Duration(cfg.CooldownMinutes) * time.Minute,
		limiters:    make(map[string]*rate.Limiter),
		clock:       realClock{},
		logger:      logger,
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

// HandleMessage replies with the first matching correction and reports
// whether a reply was sent.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.MessageCreate) bool {
	if msg.Author == nil || msg.Author.Bot {
		return false
	}

	correction, ok := m.match(msg.Content)
	if !ok {
		return false
	}

	now := m.clock.Now()
	if !m.spend(msg.Author.ID, now) {
		m.logger.Debug("typo correction on cooldown", zap.String("user_id", msg.Author.ID), zap.String("pattern", correction.Pattern))
		return false
	}

	reply := fmt.Sprintf("Did you mean %s?", correction.Correction)
	if _, err := m.client.ChannelMessageSendReply(ctx, msg.ChannelID, reply, msg.Reference()); err != nil {
		m.refund(msg.Author.ID)
		m.logger.Warn("typo correction failed", zap.String("user_id", msg.Author.ID), zap.String("channel_id", msg.ChannelID), zap.Error(err))
		return false
	}
	metrics.TypoCorrections.WithLabelValues(correction.Pattern).Inc()
	return true
}

func (m *Module) match(content string) (config.Correction, bool) {
	text := fold(content)
	for _, c := range m.corrections {
		if strings.Contains(text, c.Pattern) {
			return c, true
		}
	}
	return config.Correction{}, false
}

func (m *Module) spend(userID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter := m.limiters[userID]
	if limiter == nil {
		limiter = m.newLimiter()
		m.limiters[userID] = limiter
	}
	return limiter.AllowN(now, 1)
}

// refund restores the cooldown a failed reply consumed; with a burst of one
// a fresh limiter is exactly the state before the spend.
func (m *Module) refund(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[userID] = m.newLimiter()
}

func (m *Module) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(m.cooldown), 1)
}

func fold(s string) string {
	return cases.Lower(language.Und).String(s)
}
