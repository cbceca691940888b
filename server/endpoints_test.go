package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/meowbot/config"
	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/streams"
	"github.com/onnwee/meowbot/timeparse"
	"github.com/onnwee/meowbot/twitchapi"
)

type fakeWatcher struct {
	mu     sync.Mutex
	names  map[string]bool
	known  map[string]bool
	addErr error
}

func newFakeWatcher(known ...string) *fakeWatcher {
	f := &fakeWatcher{names: map[string]bool{}, known: map[string]bool{}}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func (f *fakeWatcher) Add(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = streams.NormalizeName(name)
	switch {
	case f.addErr != nil:
		return f.addErr
	case name == "":
		return streams.ErrInvalidName
	case f.names[name]:
		return streams.ErrAlreadyWatched
	case !f.known[name]:
		return fmt.Errorf("verify %s: %w", name, twitchapi.ErrUserNotFound)
	}
	f.names[name] = false
	return nil
}

func (f *fakeWatcher) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = streams.NormalizeName(name)
	if _, ok := f.names[name]; !ok {
		return streams.ErrNotWatched
	}
	delete(f.names, name)
	return nil
}

func (f *fakeWatcher) Statuses() []streams.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []streams.Status
	for n, live := range f.names {
		out = append(out, streams.Status{Name: n, Live: live})
	}
	return out
}

func (f *fakeWatcher) CheckLive(context.Context) (streams.CheckReport, error) {
	return streams.CheckReport{Live: []twitchapi.Stream{{UserLogin: "alice", Title: "hi", ViewerCount: 3}}, Errors: 1}, nil
}

type nopSink struct{}

func (nopSink) Deliver(context.Context, notify.Destination, notify.Message) error { return nil }

func newTestDeps() (Deps, *reminders.Scheduler) {
	sched := reminders.New(timeparse.New(), nopSink{}, reminders.Config{})
	counters := db.NewMemoryCounters()
	_, _ = counters.Increment(context.Background(), db.Meows, "u1", 4)
	_, _ = counters.Increment(context.Background(), db.Meows, "u2", 9)
	return Deps{
		Watch:     newFakeWatcher("alice", "bob"),
		Reminders: sched,
		Counters:  counters,
		Config: &config.Config{
			PollInterval:        5 * time.Minute,
			SweepInterval:       30 * time.Second,
			HTTPTimeout:         10 * time.Second,
			MaxRemindersPerUser: 25,
			DiscordToken:        "super-secret",
			TwitchClientSecret:  "also-secret",
		},
		AdminToken: "admin-token",
		Version:    "test",
	}, sched
}

func do(t *testing.T, h http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.1:1234"
	if admin {
		req.Header.Set("X-Admin-Token", "admin-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (status %d)", err, rr.Code)
	}
	return out
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _ := newTestDeps()
	rr := do(t, NewMux(context.Background(), deps), http.MethodGet, "/metrics", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("metrics returned empty response")
	}
}

func TestConfigEndpointHidesSecrets(t *testing.T) {
	deps, _ := newTestDeps()
	rr := do(t, NewMux(context.Background(), deps), http.MethodGet, "/config", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("config status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "super-secret") || strings.Contains(body, "also-secret") {
		t.Fatalf("config leaked a secret: %s", body)
	}
	if !strings.Contains(body, `"stream_poll_interval":"5m0s"`) {
		t.Errorf("config body = %s", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	deps, sched := newTestDeps()
	_ = deps.Watch.Add(context.Background(), "alice")
	if _, err := sched.Schedule("42", notify.Destination{}, "in 1 hour", "x", time.Now()); err != nil {
		t.Fatal(err)
	}
	rr := do(t, NewMux(context.Background(), deps), http.MethodGet, "/status", "", false)
	out := decode(t, rr)
	if out["pending_reminders"] != float64(1) {
		t.Errorf("pending_reminders = %v", out["pending_reminders"])
	}
	if out["live"] != float64(0) {
		t.Errorf("live = %v", out["live"])
	}
	if watched, _ := out["watched"].([]any); len(watched) != 1 {
		t.Errorf("watched = %v", out["watched"])
	}
}

func TestReadyzNeedsToken(t *testing.T) {
	ts := &twitchapi.TokenSource{}
	h := NewMux(context.Background(), Deps{Token: ts})
	rr := do(t, h, http.MethodGet, "/readyz", "", false)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without token = %d, want 503", rr.Code)
	}
	if out := decode(t, rr); out["failed_check"] != "twitch_token" {
		t.Errorf("failed_check = %v", out["failed_check"])
	}

	ts.SetToken("tok")
	if rr := do(t, h, http.MethodGet, "/readyz", "", false); rr.Code != http.StatusOK {
		t.Fatalf("readyz with token = %d, want 200", rr.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	deps, _ := newTestDeps()
	h := NewMux(context.Background(), deps)
	if rr := do(t, h, http.MethodGet, "/admin/watch", "", false); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/admin/watch", "", true); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAdminWatchLifecycle(t *testing.T) {
	deps, _ := newTestDeps()
	h := NewMux(context.Background(), deps)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/admin/watch", `{"name":"Alice"}`, http.StatusCreated},
		{http.MethodPost, "/admin/watch", `{"name":"alice"}`, http.StatusConflict},
		{http.MethodPost, "/admin/watch", `{"name":"ghost"}`, http.StatusNotFound},
		{http.MethodPost, "/admin/watch", `{"name":"  "}`, http.StatusBadRequest},
		{http.MethodPost, "/admin/watch", `not json`, http.StatusBadRequest},
		{http.MethodDelete, "/admin/watch/alice", "", http.StatusNoContent},
		{http.MethodDelete, "/admin/watch/alice", "", http.StatusNotFound},
		{http.MethodPut, "/admin/watch", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rr := do(t, h, tt.method, tt.path, tt.body, true)
		if rr.Code != tt.want {
			t.Errorf("%s %s %s = %d, want %d (%s)", tt.method, tt.path, tt.body, rr.Code, tt.want, rr.Body.String())
		}
	}
}

func TestAdminWatchAddUpstreamFailure(t *testing.T) {
	deps, _ := newTestDeps()
	deps.Watch.(*fakeWatcher).addErr = errors.New("helix down")
	rr := do(t, NewMux(context.Background(), deps), http.MethodPost, "/admin/watch", `{"name":"alice"}`, true)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestAdminWatchLive(t *testing.T) {
	deps, _ := newTestDeps()
	rr := do(t, NewMux(context.Background(), deps), http.MethodGet, "/admin/watch/live", "", true)
	out := decode(t, rr)
	live, _ := out["live"].([]any)
	if len(live) != 1 || out["errors"] != float64(1) {
		t.Fatalf("body = %v", out)
	}
}

func TestAdminReminders(t *testing.T) {
	deps, sched := newTestDeps()
	now := time.Now()
	rec, err := sched.Schedule("42", notify.Destination{}, "in 2 hours", "later", now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Schedule("43", notify.Destination{}, "in 1 hour", "sooner", now); err != nil {
		t.Fatal(err)
	}
	h := NewMux(context.Background(), deps)

	out := decode(t, do(t, h, http.MethodGet, "/admin/reminders", "", true))
	if out["count"] != float64(2) {
		t.Fatalf("count = %v", out["count"])
	}
	out = decode(t, do(t, h, http.MethodGet, "/admin/reminders?owner=42", "", true))
	if out["count"] != float64(1) {
		t.Fatalf("owner count = %v", out["count"])
	}

	if rr := do(t, h, http.MethodDelete, "/admin/reminders/"+rec.ID, "", true); rr.Code != http.StatusBadRequest {
		t.Fatalf("cancel without owner = %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/admin/reminders/"+rec.ID+"?owner=43", "", true); rr.Code != http.StatusNotFound {
		t.Fatalf("cancel by wrong owner = %d, want 404", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/admin/reminders/"+rec.ID+"?owner=42", "", true); rr.Code != http.StatusNoContent {
		t.Fatalf("cancel = %d, want 204", rr.Code)
	}
	if sched.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", sched.Pending())
	}
}

func TestAdminCounters(t *testing.T) {
	deps, _ := newTestDeps()
	h := NewMux(context.Background(), deps)

	out := decode(t, do(t, h, http.MethodGet, "/admin/counters/meows?limit=1", "", true))
	if out["total"] != float64(13) {
		t.Errorf("total = %v", out["total"])
	}
	top, _ := out["top"].([]any)
	if len(top) != 1 {
		t.Fatalf("top = %v", out["top"])
	}
	if first, _ := top[0].(map[string]any); first["user_id"] != "u2" {
		t.Errorf("top[0] = %v", top[0])
	}

	out = decode(t, do(t, h, http.MethodGet, "/admin/counters/barks", "", true))
	if top, _ := out["top"].([]any); len(top) != 0 || out["total"] != float64(0) {
		t.Errorf("barks = %v", out)
	}

	if rr := do(t, h, http.MethodGet, "/admin/counters/purrs", "", true); rr.Code != http.StatusNotFound {
		t.Errorf("unknown counter = %d, want 404", rr.Code)
	}
}

func TestDisabledDependencies(t *testing.T) {
	h := NewMux(context.Background(), Deps{})
	for _, path := range []string{"/admin/watch", "/admin/reminders", "/admin/counters/meows"} {
		if rr := do(t, h, http.MethodGet, path, "", false); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, rr.Code)
		}
	}
}

func TestParseIntQuery(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"limit=5", 5},
		{"limit=abc", 10},
		{"", 10},
		{"limit=-3", -3},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntQuery(req, "limit", 10); got != tt.want {
			t.Errorf("parseIntQuery(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
