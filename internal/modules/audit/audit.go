package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Entry struct {
	Level     string
	GuildID   string
	UserID    string
	Event     string
	Details   string
	CreatedAt time.Time
}

// Notifier delivers an entry to humans, typically the moderation channel.
type Notifier func(context.Context, Entry) error

type Logger struct {
	logger *zap.Logger
	notify Notifier
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) SetNotifier(notify Notifier) {
	l.notify = notify
}

// Log records the entry and forwards it to the notifier. The notifier error
// is logged and returned; the entry itself is never lost.
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) error {
	entry := Entry{
		Level:     level,
		GuildID:   guildID,
		UserID:    userID,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
	if l.notify == nil {
		return nil
	}
	if err := l.notify(ctx, entry); err != nil {
		l.logger.Warn("audit notify failed", zap.String("event", event), zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}
