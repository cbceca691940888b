// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/onnwee/meowbot/config"
	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/streams"
)

// Watcher is the watch-list surface of the stream poller.
type Watcher interface {
	Add(ctx context.Context, name string) error
	Remove(name string) error
	Statuses() []streams.Status
	CheckLive(ctx context.Context) (streams.CheckReport, error)
}

// ReminderStore is the read and cancel surface of the reminder scheduler.
type ReminderStore interface {
	All() []reminders.Record
	ListFor(owner string) []reminders.Record
	Pending() int
	Cancel(owner, id string) error
}

// TokenHolder reports the cached Twitch app token.
type TokenHolder interface {
	Token() string
}

// Deps are the collaborators the handlers call into. Nil members disable the
// routes or checks that need them.
type Deps struct {
	Watch      Watcher
	Reminders  ReminderStore
	Counters   db.Counters
	DB         *sql.DB
	Token      TokenHolder
	Config     *config.Config
	AdminToken string
	Version    string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
