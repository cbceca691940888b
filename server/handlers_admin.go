package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/streams"
	"github.com/onnwee/meowbot/telemetry"
	"github.com/onnwee/meowbot/twitchapi"
)

// HandleWatchList returns the watch-list with the last observed liveness.
func (h *Handlers) HandleWatchList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Watch == nil {
		writeError(w, http.StatusServiceUnavailable, "stream watcher disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streamers": h.deps.Watch.Statuses()})
}

// HandleWatchAdd verifies and adds a streamer. Body: {"name": "login"}.
func (h *Handlers) HandleWatchAdd(w http.ResponseWriter, r *http.Request) {
	if h.deps.Watch == nil {
		writeError(w, http.StatusServiceUnavailable, "stream watcher disabled")
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.deps.Watch.Add(r.Context(), body.Name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "name": streams.NormalizeName(body.Name)})
	case errors.Is(err, streams.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, streams.ErrAlreadyWatched):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, twitchapi.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "twitch user not found")
	default:
		telemetry.LoggerWithCorr(r.Context()).Warn("add streamer failed", slog.String("name", body.Name), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "could not verify streamer")
	}
}

// HandleWatchRemove drops a streamer from the watch-list.
func (h *Handlers) HandleWatchRemove(w http.ResponseWriter, r *http.Request) {
	if h.deps.Watch == nil {
		writeError(w, http.StatusServiceUnavailable, "stream watcher disabled")
		return
	}
	if err := h.deps.Watch.Remove(r.PathValue("name")); err != nil {
		if errors.Is(err, streams.ErrNotWatched) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWatchLive runs an ad hoc live check without touching recorded statuses.
func (h *Handlers) HandleWatchLive(w http.ResponseWriter, r *http.Request) {
	if h.deps.Watch == nil {
		writeError(w, http.StatusServiceUnavailable, "stream watcher disabled")
		return
	}
	rep, err := h.deps.Watch.CheckLive(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	live := make([]map[string]any, 0, len(rep.Live))
	for _, s := range rep.Live {
		live = append(live, map[string]any{
			"login":   s.UserLogin,
			"title":   s.Title,
			"game":    s.GameName,
			"viewers": s.ViewerCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"live": live, "errors": rep.Errors})
}

// HandleReminders lists pending reminders, optionally for one owner (?owner=).
func (h *Handlers) HandleReminders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminders disabled")
		return
	}
	var list []reminders.Record
	if owner := r.URL.Query().Get("owner"); owner != "" {
		list = h.deps.Reminders.ListFor(owner)
	} else {
		list = h.deps.Reminders.All()
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": list, "count": len(list)})
}

// HandleReminderCancel removes one pending reminder; ?owner= is required.
func (h *Handlers) HandleReminderCancel(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminders disabled")
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner required")
		return
	}
	if err := h.deps.Reminders.Cancel(owner, r.PathValue("id")); err != nil {
		if errors.Is(err, reminders.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCounters returns a leaderboard for meows or barks (?limit=, default 10).
func (h *Handlers) HandleCounters(w http.ResponseWriter, r *http.Request) {
	if h.deps.Counters == nil {
		writeError(w, http.StatusServiceUnavailable, "counters disabled")
		return
	}
	c := db.Counter(r.PathValue("counter"))
	if c != db.Meows && c != db.Barks {
		writeError(w, http.StatusNotFound, "unknown counter")
		return
	}
	limit := parseIntQuery(r, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	top, err := h.deps.Counters.Top(r.Context(), c, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := h.deps.Counters.Total(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if top == nil {
		top = []db.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"counter": c, "total": total, "top": top})
}
