package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

const (
	PurgeScopeGuild   = "guild"
	PurgeScopeChannel = "channel"
)

type Config struct {
	DiscordToken        string         `yaml:"discord_token"`
	LogLevel            string         `yaml:"log_level"`
	LogFile             string         `yaml:"log_file"`
	CommandPrefix       string         `yaml:"command_prefix"`
	GuildID             string         `yaml:"guild_id"`
	RoleID              string         `yaml:"role_id"`
	ModerationChannelID string         `yaml:"moderation_channel_id"`
	Rules               RulesConfig    `yaml:"rules"`
	Activity            ActivityConfig `yaml:"activity"`
	Spam                SpamConfig     `yaml:"spam"`
	Typo                TypoConfig     `yaml:"typo"`
	Health              HealthConfig   `yaml:"health"`
}

type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	MaxConns int    `yaml:"max_conns"`
}

// RulesConfig binds the opt-in/opt-out reactions to the pinned rules message.
type RulesConfig struct {
	ChannelID       string `yaml:"channel_id"`
	MessageID       string `yaml:"message_id"`
	OptInEmojiID    string `yaml:"opt_in_emoji_id"`
	OptOutEmojiID   string `yaml:"opt_out_emoji_id"`
	RevokeOnUnreact bool   `yaml:"revoke_on_unreact"`
}

type ActivityConfig struct {
	LookbackDays    int `yaml:"lookback_days"`
	ScanConcurrency int `yaml:"scan_concurrency"`
	IntervalMinutes int `yaml:"interval_minutes"`
}

type SpamConfig struct {
	WindowSeconds           int    `yaml:"window_seconds"`
	BurstSeconds            int    `yaml:"burst_seconds"`
	DuplicateThreshold      int    `yaml:"duplicate_threshold"`
	RequireChannelDiversity bool   `yaml:"require_channel_diversity"`
	ChannelThreshold        int    `yaml:"channel_threshold"`
	PurgeLimit              int    `yaml:"purge_limit"`
	PurgeScan               int    `yaml:"purge_scan"`
	PurgeScope              string `yaml:"purge_scope"`
	BanReason               string `yaml:"ban_reason"`
	BanDeleteDays           int    `yaml:"ban_delete_days"`
}

type TypoConfig struct {
	CooldownMinutes int          `yaml:"cooldown_minutes"`
	Corrections     []Correction `yaml:"corrections"`
}

// Correction maps a lowercase substring to the text suggested in its place.
type Correction struct {
	Pattern    string `yaml:"pattern"`
	Correction string `yaml:"correction"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:            "info",
		CommandPrefix:       "!",
		GuildID:             "1062107664932417586",
		RoleID:              "1224746856077332692",
		ModerationChannelID: "1224815581316780183",
		Rules: RulesConfig{
			ChannelID:     "1062297825054044250",
			MessageID:     "1062298391658377247",
			OptInEmojiID:  "1070609258233741373",
			OptOutEmojiID: "1211374073209163876",
		},
		Activity: ActivityConfig{LookbackDays: 7, ScanConcurrency: 4},
		Spam:     DefaultSpamConfig(),
		Typo: TypoConfig{
			CooldownMinutes: 5,
			Corrections: []Correction{
				{Pattern: "voight", Correction: "**Voigtländer** (without the 'h')"},
				{Pattern: " lecia ", Correction: "**Leica**"},
			},
		},
		Health: HealthConfig{Enabled: false, Addr: ":8080", MaxConns: 32},
	}
}

func DefaultSpamConfig() SpamConfig {
	return SpamConfig{
		WindowSeconds:           60,
		BurstSeconds:            60,
		DuplicateThreshold:      5,
		RequireChannelDiversity: true,
		ChannelThreshold:        3,
		PurgeLimit:              10,
		PurgeScan:               100,
		PurgeScope:              PurgeScopeGuild,
		BanReason:               "Spamming the same message in multiple channels",
		BanDeleteDays:           1,
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("APOBOT_TOKEN is required")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a config without a target guild or role and replaces
// non-positive thresholds with their defaults.
func (c *Config) Validate() error {
	if c.GuildID == "" {
		return errors.New("guild_id is required")
	}
	if c.RoleID == "" {
		return errors.New("role_id is required")
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}

	defaults := DefaultConfig()
	if c.Activity.LookbackDays <= 0 {
		c.Activity.LookbackDays = defaults.Activity.LookbackDays
	}
	if c.Activity.ScanConcurrency <= 0 {
		c.Activity.ScanConcurrency = defaults.Activity.ScanConcurrency
	}
	if c.Typo.CooldownMinutes <= 0 {
		c.Typo.CooldownMinutes = defaults.Typo.CooldownMinutes
	}
	c.Spam = normalizeSpam(c.Spam)
	return nil
}

func normalizeSpam(spam SpamConfig) SpamConfig {
	defaults := DefaultSpamConfig()
	if spam.WindowSeconds <= 0 {
		spam.WindowSeconds = defaults.WindowSeconds
	}
	if spam.BurstSeconds <= 0 {
		spam.BurstSeconds = defaults.BurstSeconds
	}
	if spam.DuplicateThreshold <= 0 {
		spam.DuplicateThreshold = defaults.DuplicateThreshold
	}
	if spam.ChannelThreshold < 0 {
		spam.ChannelThreshold = defaults.ChannelThreshold
	}
	if spam.PurgeLimit <= 0 {
		spam.PurgeLimit = defaults.PurgeLimit
	}
	if spam.PurgeScan <= 0 || spam.PurgeScan > 100 {
		spam.PurgeScan = defaults.PurgeScan
	}
	if spam.BanReason == "" {
		spam.BanReason = defaults.BanReason
	}
	if spam.BanDeleteDays < 0 || spam.BanDeleteDays > 7 {
		spam.BanDeleteDays = defaults.BanDeleteDays
	}
	spam.PurgeScope = normalizePurgeScope(spam.PurgeScope)
	return spam
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DiscordToken = envString("APOBOT_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.CommandPrefix = envString("COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.RoleID = envString("ROLE_ID", cfg.RoleID)
	cfg.ModerationChannelID = envString("MOD_CHANNEL_ID", cfg.ModerationChannelID)
	cfg.Rules.ChannelID = envString("RULES_CHANNEL_ID", cfg.Rules.ChannelID)
	cfg.Rules.MessageID = envString("RULES_MESSAGE_ID", cfg.Rules.MessageID)
	cfg.Rules.OptInEmojiID = envString("OPT_IN_EMOJI_ID", cfg.Rules.OptInEmojiID)
	cfg.Rules.OptOutEmojiID = envString("OPT_OUT_EMOJI_ID", cfg.Rules.OptOutEmojiID)
	cfg.Rules.RevokeOnUnreact = envBool("REVOKE_ON_UNREACT", cfg.Rules.RevokeOnUnreact)
	cfg.Activity.LookbackDays = envInt("ACTIVITY_LOOKBACK_DAYS", cfg.Activity.LookbackDays)
	cfg.Activity.ScanConcurrency = envInt("ACTIVITY_SCAN_CONCURRENCY", cfg.Activity.ScanConcurrency)
	cfg.Activity.IntervalMinutes = envInt("ACTIVITY_INTERVAL_MINUTES", cfg.Activity.IntervalMinutes)
	cfg.Spam.WindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Spam.WindowSeconds)
	cfg.Spam.BurstSeconds = envInt("SPAM_BURST_SECONDS", cfg.Spam.BurstSeconds)
	cfg.Spam.DuplicateThreshold = envInt("SPAM_DUPLICATE_THRESHOLD", cfg.Spam.DuplicateThreshold)
	cfg.Spam.RequireChannelDiversity = envBool("SPAM_REQUIRE_CHANNEL_DIVERSITY", cfg.Spam.RequireChannelDiversity)
	cfg.Spam.ChannelThreshold = envInt("SPAM_CHANNEL_THRESHOLD", cfg.Spam.ChannelThreshold)
	cfg.Spam.PurgeLimit = envInt("SPAM_PURGE_LIMIT", cfg.Spam.PurgeLimit)
	cfg.Spam.PurgeScope = envString("SPAM_PURGE_SCOPE", cfg.Spam.PurgeScope)
	cfg.Typo.CooldownMinutes = envInt("TYPO_COOLDOWN_MINUTES", cfg.Typo.CooldownMinutes)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.MaxConns = envInt("HEALTH_MAX_CONNS", cfg.Health.MaxConns)
}

// BuildLogger returns a JSON logger on stdout, teed into a rotating file
// when path is set.
func BuildLogger(level, path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return logger, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64,
		MaxBackups: 8,
		MaxAge:     30,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(rotator), cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizePurgeScope(value string) string {
	switch strings.ToLower(value) {
	case PurgeScopeChannel:
		return PurgeScopeChannel
	default:
		return PurgeScopeGuild
	}
}
