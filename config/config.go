// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials, use ValidateDiscordReady and ValidateTwitchReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Discord
	DiscordToken     string
	DiscordAppID     string
	DiscordGuildID   string
	AlertChannelID   string
	WelcomeChannelID string
	PatrollerRoleID  string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchTokenURL     string
	HelixBaseURL       string
	StreamerNames      []string

	// Timing
	PollInterval  time.Duration
	SweepInterval time.Duration
	HTTPTimeout   time.Duration

	// Reminders
	MaxRemindersPerUser int

	// Database (empty disables counters)
	DBDsn string

	// Admin HTTP
	HTTPAddr   string
	AdminToken string

	// DryRun logs outgoing messages instead of sending them to Discord.
	DryRun bool
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials are missing;
// use the Validate helpers for the features that need them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DiscordToken = os.Getenv("DISCORD_BOT_TOKEN")
	cfg.DiscordAppID = os.Getenv("DISCORD_APP_ID")
	cfg.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")
	cfg.AlertChannelID = os.Getenv("TWITCH_ALERT_CHANNEL_ID")
	cfg.WelcomeChannelID = os.Getenv("WELCOME_CHANNEL_ID")
	cfg.PatrollerRoleID = os.Getenv("PATROLLER_ROLE_ID")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchTokenURL = os.Getenv("TWITCH_TOKEN_URL")
	cfg.HelixBaseURL = os.Getenv("TWITCH_HELIX_URL")
	cfg.StreamerNames = splitList(os.Getenv("STREAMER_NAMES"))

	var err error
	if cfg.PollInterval, err = durationEnv("STREAM_POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("REMINDER_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.MaxRemindersPerUser = 25
	if v := os.Getenv("MAX_REMINDERS_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_REMINDERS_PER_USER %q: want a positive integer", v)
		}
		cfg.MaxRemindersPerUser = n
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY_RUN %q: %w", v, err)
		}
		cfg.DryRun = b
	}

	return cfg, nil
}

// ValidateDiscordReady checks the fields needed to connect the bot.
func (c *Config) ValidateDiscordReady() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("missing discord env: require DISCORD_BOT_TOKEN")
	}
	return nil
}

// ValidateTwitchReady checks the fields needed for stream alerts.
func (c *Config) ValidateTwitchReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	if c.AlertChannelID == "" && !c.DryRun {
		return fmt.Errorf("missing twitch env: require TWITCH_ALERT_CHANNEL_ID")
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// plain integers are seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		d = time.Duration(n) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
