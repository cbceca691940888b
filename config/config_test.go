package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STREAM_POLL_INTERVAL", "REMINDER_SWEEP_INTERVAL", "HTTP_TIMEOUT", "MAX_REMINDERS_PER_USER", "HTTP_ADDR", "STREAMER_NAMES", "DRY_RUN"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want 10s", cfg.HTTPTimeout)
	}
	if cfg.MaxRemindersPerUser != 25 {
		t.Errorf("MaxRemindersPerUser = %d, want 25", cfg.MaxRemindersPerUser)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if len(cfg.StreamerNames) != 0 || cfg.DryRun {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STREAM_POLL_INTERVAL", "90s")
	t.Setenv("REMINDER_SWEEP_INTERVAL", "15")
	t.Setenv("MAX_REMINDERS_PER_USER", "3")
	t.Setenv("STREAMER_NAMES", " Alice, bob  carol,,")
	t.Setenv("DRY_RUN", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 90*time.Second || cfg.SweepInterval != 15*time.Second {
		t.Errorf("intervals = %v/%v", cfg.PollInterval, cfg.SweepInterval)
	}
	if cfg.MaxRemindersPerUser != 3 || !cfg.DryRun {
		t.Errorf("cfg = %+v", cfg)
	}
	want := []string{"alice", "bob", "carol"}
	if len(cfg.StreamerNames) != len(want) {
		t.Fatalf("StreamerNames = %v, want %v", cfg.StreamerNames, want)
	}
	for i := range want {
		if cfg.StreamerNames[i] != want[i] {
			t.Errorf("StreamerNames[%d] = %q, want %q", i, cfg.StreamerNames[i], want[i])
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STREAM_POLL_INTERVAL":   "soon",
		"HTTP_TIMEOUT":           "-5s",
		"MAX_REMINDERS_PER_USER": "0",
		"DRY_RUN":                "perhaps",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q should fail", key, val)
			}
		})
	}
}

func TestValidateTwitchReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_ALERT_CHANNEL_ID", "123")
	t.Setenv("DRY_RUN", "")
	cfg, _ := Load()
	if err := cfg.ValidateTwitchReady(); err != nil {
		t.Errorf("expected valid twitch config, got %v", err)
	}
	cfg.AlertChannelID = ""
	if err := cfg.ValidateTwitchReady(); err == nil {
		t.Error("expected error without alert channel")
	}
	cfg.DryRun = true
	if err := cfg.ValidateTwitchReady(); err != nil {
		t.Errorf("dry run should not need an alert channel: %v", err)
	}
	cfg.TwitchClientSecret = ""
	if err := cfg.ValidateTwitchReady(); err == nil {
		t.Error("expected error without client secret")
	}
}

func TestValidateDiscordReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateDiscordReady(); err == nil {
		t.Error("expected error without bot token")
	}
	cfg.DiscordToken = "tok"
	if err := cfg.ValidateDiscordReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
