package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string          `yaml:"discord_token" validate:"required"`
	LogLevel      string          `yaml:"log_level"`
	RulePreset    string          `yaml:"rule_preset"`
	Mode          string          `yaml:"mode" validate:"oneof=normal audit"`
	Health        HealthConfig    `yaml:"health"`
	Storage       StorageConfig   `yaml:"storage"`
	Limits        Limits          `yaml:"limits"`
	Raid          RaidConfig      `yaml:"raid"`
	Emergency     EmergencyConfig `yaml:"emergency"`
	Timeouts      TimeoutConfig   `yaml:"timeouts"`
	Policy        PolicyConfig    `yaml:"policy"`
	RateGuard     RateGuardConfig `yaml:"rate_guard"`
	Sweep         SweepConfig     `yaml:"sweep"`
	Resolver      ResolverConfig  `yaml:"resolver"`
	Status        StatusConfig    `yaml:"status"`
	Actions       ActionConfig    `yaml:"actions"`
	Notifications NotifyConfig    `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// StorageConfig controls the optional Postgres export of activity entries.
// An empty DatabaseURL disables the export.
type StorageConfig struct {
	DatabaseURL   string `yaml:"database_url"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
}

type Limit struct {
	Threshold     int `yaml:"threshold" validate:"gte=0"`
	WindowSeconds int `yaml:"window_seconds" validate:"gt=0"`
}

func (l Limit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// Breached reports whether count exceeds the tolerated threshold.
func (l Limit) Breached(count int) bool {
	return count > l.Threshold
}

type Limits struct {
	RoleDelete    Limit `yaml:"role_delete"`
	RoleCreate    Limit `yaml:"role_create"`
	ChannelDelete Limit `yaml:"channel_delete"`
	ChannelCreate Limit `yaml:"channel_create"`
	MemberBan     Limit `yaml:"member_ban"`
	MemberKick    Limit `yaml:"member_kick"`
	BotAdd        Limit `yaml:"bot_add"`
	MemberRemove  Limit `yaml:"member_remove"`
}

type RaidConfig struct {
	Joins           int `yaml:"joins" validate:"gte=1"`
	WindowSeconds   int `yaml:"window_seconds" validate:"gt=0"`
	DurationMinutes int `yaml:"duration_minutes" validate:"gt=0"`
}

type EmergencyConfig struct {
	QuietMinutes int `yaml:"quiet_minutes" validate:"gt=0"`
}

// TimeoutConfig holds restriction lengths in hours per reason category.
type TimeoutConfig struct {
	BotAdditionHours         int `yaml:"bot_addition_hours" validate:"gt=0"`
	MemberKickHours          int `yaml:"member_kick_hours" validate:"gt=0"`
	MemberBanHours           int `yaml:"member_ban_hours" validate:"gt=0"`
	ChannelModificationHours int `yaml:"channel_modification_hours" validate:"gt=0"`
	UnauthorizedActionHours  int `yaml:"unauthorized_action_hours" validate:"gt=0"`
	NukeAttemptHours         int `yaml:"nuke_attempt_hours" validate:"gt=0"`
	MaxHours                 int `yaml:"max_hours" validate:"gt=0,lte=672"`
}

type PolicyConfig struct {
	RoleKeywords    []string `yaml:"role_keywords"`
	ChannelKeywords []string `yaml:"channel_keywords"`
	// ChannelReorder is the severity of a position-only channel change:
	// "sanction" treats it like any other modification, "ignore" allows it.
	ChannelReorder string `yaml:"channel_reorder" validate:"oneof=sanction ignore"`
}

type RateGuardConfig struct {
	Limit        int `yaml:"limit" validate:"gte=1"`
	WindowMillis int `yaml:"window_millis" validate:"gt=0"`
}

type SweepConfig struct {
	IntervalSeconds      int `yaml:"interval_seconds" validate:"gt=0"`
	MaxAgeSeconds        int `yaml:"max_age_seconds" validate:"gt=0"`
	StatusRefreshSeconds int `yaml:"status_refresh_seconds" validate:"gt=0"`
}

type ResolverConfig struct {
	Attempts         int `yaml:"attempts" validate:"gte=1"`
	// KickAttempts bounds the kick lookup made for each member departure.
	KickAttempts     int `yaml:"kick_attempts" validate:"gte=1"`
	BackoffMillis    int `yaml:"backoff_millis" validate:"gte=0"`
	StalenessSeconds int `yaml:"staleness_seconds" validate:"gt=0"`
}

type StatusConfig struct {
	ThrottleMillis int    `yaml:"throttle_millis" validate:"gt=0"`
	LogChannel     string `yaml:"log_channel"`
	ChannelName    string `yaml:"channel_name"`
}

type ActionConfig struct {
	Enabled            bool `yaml:"enabled"`
	BanFallbackTimeout bool `yaml:"ban_fallback_timeout"`
	DeleteMessageDays  int  `yaml:"delete_message_days" validate:"gte=0,lte=7"`
}

type NotifyConfig struct {
	AuditToChannel bool        `yaml:"audit_to_channel"`
	DMOwner        bool        `yaml:"dm_owner"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
	OK      int `yaml:"ok"`
}

var DefaultRoleKeywords = []string{"nuke", "raid", "hack", "destroy", "kill", "delete", "spam", "admin", "owner", "mod"}

var DefaultChannelKeywords = []string{"nuke", "raid", "hack", "destroy", "kill", "delete", "spam"}

func DefaultConfig() Config {
	return Config{
		LogLevel:   "info",
		RulePreset: "medium",
		Mode:       "normal",
		Health:     HealthConfig{Enabled: false, Addr: ":8080"},
		Storage:    StorageConfig{RetentionDays: 30},
		Limits:     defaultLimits(),
		Raid:       RaidConfig{Joins: 5, WindowSeconds: 10, DurationMinutes: 60},
		Emergency:  EmergencyConfig{QuietMinutes: 5},
		Timeouts: TimeoutConfig{
			BotAdditionHours:         28 * 24,
			MemberKickHours:          2 * 24,
			MemberBanHours:           7 * 24,
			ChannelModificationHours: 28 * 24,
			UnauthorizedActionHours:  28 * 24,
			NukeAttemptHours:         28 * 24,
			MaxHours:                 28 * 24,
		},
		Policy: PolicyConfig{
			RoleKeywords:    append([]string{}, DefaultRoleKeywords...),
			ChannelKeywords: append([]string{}, DefaultChannelKeywords...),
			ChannelReorder:  "sanction",
		},
		RateGuard: RateGuardConfig{Limit: 3, WindowMillis: 1000},
		Sweep:     SweepConfig{IntervalSeconds: 30, MaxAgeSeconds: 10, StatusRefreshSeconds: 60},
		Resolver:  ResolverConfig{Attempts: 5, KickAttempts: 1, BackoffMillis: 200, StalenessSeconds: 10},
		Status:    StatusConfig{ThrottleMillis: 1000, ChannelName: "security-logs"},
		Actions:   ActionConfig{Enabled: true, BanFallbackTimeout: true, DeleteMessageDays: 7},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			DMOwner:        true,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
				OK:      0x22C55E,
			},
		},
	}
}

func defaultLimits() Limits {
	return Limits{
		RoleDelete:    Limit{Threshold: 1, WindowSeconds: 5},
		RoleCreate:    Limit{Threshold: 1, WindowSeconds: 5},
		ChannelDelete: Limit{Threshold: 1, WindowSeconds: 3},
		ChannelCreate: Limit{Threshold: 2, WindowSeconds: 5},
		MemberBan:     Limit{Threshold: 2, WindowSeconds: 10},
		MemberKick:    Limit{Threshold: 3, WindowSeconds: 15},
		BotAdd:        Limit{Threshold: 1, WindowSeconds: 10},
		MemberRemove:  Limit{Threshold: 2, WindowSeconds: 10},
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
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	cfg.Mode = normalizeMode(cfg.Mode)
	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	cfg.Policy.ChannelReorder = normalizeReorder(cfg.Policy.ChannelReorder)
	applyPreset(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AuditOnly reports whether verdicts should be logged without calling the platform.
func (c Config) AuditOnly() bool {
	return c.Mode == "audit" || !c.Actions.Enabled
}

func (c Config) MaxTimeout() time.Duration {
	return time.Duration(c.Timeouts.MaxHours) * time.Hour
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.Mode = envString("MODE", cfg.Mode)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Storage.DatabaseURL = envString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Storage.RetentionDays = envInt("RETENTION_DAYS", cfg.Storage.RetentionDays)
	cfg.Raid.Joins = envInt("RAID_JOINS", cfg.Raid.Joins)
	cfg.Raid.WindowSeconds = envInt("RAID_WINDOW_SECONDS", cfg.Raid.WindowSeconds)
	cfg.Raid.DurationMinutes = envInt("RAID_DURATION_MINUTES", cfg.Raid.DurationMinutes)
	cfg.Policy.ChannelReorder = envString("CHANNEL_REORDER", cfg.Policy.ChannelReorder)
	cfg.Policy.RoleKeywords = envList("ROLE_KEYWORDS", cfg.Policy.RoleKeywords)
	cfg.Policy.ChannelKeywords = envList("CHANNEL_KEYWORDS", cfg.Policy.ChannelKeywords)
	cfg.Status.LogChannel = envString("SECURITY_LOG_CHANNEL", cfg.Status.LogChannel)
	cfg.Actions.Enabled = envBool("ACTIONS_ENABLED", cfg.Actions.Enabled)
	cfg.Actions.BanFallbackTimeout = envBool("BAN_FALLBACK_TIMEOUT", cfg.Actions.BanFallbackTimeout)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.DMOwner = envBool("DM_OWNER", cfg.Notifications.DMOwner)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
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

// envList extends the fallback with comma-separated values from key.
func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	out := append([]string{}, fallback...)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeMode(value string) string {
	switch strings.ToLower(value) {
	case "audit":
		return "audit"
	default:
		return "normal"
	}
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

func normalizeReorder(value string) string {
	if strings.ToLower(value) == "ignore" {
		return "ignore"
	}
	return "sanction"
}

// applyPreset loosens or tightens the join and mass-action limits. The medium
// preset keeps whatever the file and environment produced.
func applyPreset(cfg *Config) {
	switch cfg.RulePreset {
	case "low":
		cfg.Raid.Joins = 8
		cfg.Limits.MemberBan.Threshold = 4
		cfg.Limits.MemberKick.Threshold = 5
		cfg.Limits.MemberRemove.Threshold = 4
	case "high":
		cfg.Raid.Joins = 3
		cfg.Limits.MemberBan.Threshold = 1
		cfg.Limits.MemberKick.Threshold = 2
		cfg.Limits.MemberRemove.Threshold = 1
	}
}
