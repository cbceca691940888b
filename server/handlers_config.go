package server

import (
	"net/http"
)

// HandleConfig returns the effective non-secret configuration.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	// secrets (tokens, client secret, DSN) must not be exposed here
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_channel_id":        cfg.AlertChannelID,
		"guild_id":                cfg.DiscordGuildID,
		"stream_poll_interval":    cfg.PollInterval.String(),
		"reminder_sweep_interval": cfg.SweepInterval.String(),
		"http_timeout":            cfg.HTTPTimeout.String(),
		"max_reminders_per_user":  cfg.MaxRemindersPerUser,
		"streamer_names":          cfg.StreamerNames,
		"database_enabled":        cfg.DBDsn != "",
		"dry_run":                 cfg.DryRun,
	})
}

// HandleStatus summarizes the watch-list and the reminder queue.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"version": h.deps.Version}
	if h.deps.Watch != nil {
		statuses := h.deps.Watch.Statuses()
		live := 0
		for _, s := range statuses {
			if s.Live {
				live++
			}
		}
		out["watched"] = statuses
		out["live"] = live
	}
	if h.deps.Reminders != nil {
		out["pending_reminders"] = h.deps.Reminders.Pending()
	}
	writeJSON(w, http.StatusOK, out)
}
