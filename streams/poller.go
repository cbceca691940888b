// Package streams watches a list of Twitch channels and announces when one goes live.
//
// The Poller keeps two pieces of shared state: the watch-list and the last
// observed liveness per entry. Both are read and written by the polling loop and
// by command handlers (add/remove/list) running on other goroutines. Every
// access is a short whole-step operation under p.mu; the lock is never held
// across a network call (token exchange, user lookup, stream lookup, alert
// delivery), so a slow Twitch or Discord never blocks a command handler.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/telemetry"
	"github.com/onnwee/meowbot/twitchapi"
)

var (
	// ErrAlreadyWatched is returned by Add for a name already on the list.
	ErrAlreadyWatched = errors.New("already watched")
	// ErrNotWatched is returned by Remove for a name not on the list.
	ErrNotWatched = errors.New("not watched")
	// ErrInvalidName is returned for names that are empty after normalization.
	ErrInvalidName = errors.New("invalid streamer name")
)

// Helix is the subset of the Twitch API the poller calls.
type Helix interface {
	GetUser(ctx context.Context, login string) (twitchapi.User, error)
	GetStream(ctx context.Context, userID string) (*twitchapi.Stream, error)
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
}

// Credentials owns the app token used by Helix.
type Credentials interface {
	Token() string
	Acquire(ctx context.Context) (string, error)
}

// Config tunes the poller.
type Config struct {
	// Interval between poll cycles (default 5m).
	Interval time.Duration
	// CallTimeout bounds every external call (default 10s).
	CallTimeout time.Duration
	// AlertDestination is where "went live" alerts are posted.
	AlertDestination notify.Destination
}

// Status is one watch-list entry with its last observed liveness.
type Status struct {
	Name string `json:"name"`
	Live bool   `json:"live"`
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Checked int
	Skipped int
	Alerts  int
}

// Poller is the periodic stream status checker.
type Poller struct {
	helix Helix
	creds Credentials
	sink  notify.Sink
	cfg   Config
	now   func() time.Time

	mu sync.Mutex
	// watch maps each name to the generation it was added under. A name that
	// is removed and added again gets a new generation.
	watch map[string]uint64
	live  map[string]bool
	gen   uint64
}

// entry is a watch-list snapshot element.
type entry struct {
	name string
	gen  uint64
}

// New creates a Poller. Zero config values fall back to defaults.
func New(helix Helix, creds Credentials, sink notify.Sink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Poller{
		helix: helix,
		creds: creds,
		sink:  sink,
		cfg:   cfg,
		now:   time.Now,
		watch: make(map[string]uint64),
		live:  make(map[string]bool),
	}
}

// NormalizeName lower-cases and trims a login so it can be used as a watch-list key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Seed puts names on the watch-list without verifying them. Used at startup.
func (p *Poller) Seed(names ...string) {
	p.mu.Lock()
	for _, n := range names {
		if n = NormalizeName(n); n != "" {
			if _, ok := p.watch[n]; !ok {
				p.gen++
				p.watch[n] = p.gen
			}
		}
	}
	count := len(p.watch)
	p.mu.Unlock()
	telemetry.SetGauge(telemetry.WatchedEntities, count)
}

// Add verifies that login exists on Twitch and puts it on the watch-list.
// The entry is polled starting with the next cycle.
func (p *Poller) Add(ctx context.Context, login string) error {
	name := NormalizeName(login)
	if name == "" {
		return ErrInvalidName
	}
	if p.isWatched(name) {
		return ErrAlreadyWatched
	}
	if err := p.verify(ctx, name); err != nil {
		return err
	}

	p.mu.Lock()
	if _, ok := p.watch[name]; ok {
		p.mu.Unlock()
		return ErrAlreadyWatched
	}
	p.gen++
	p.watch[name] = p.gen
	count := len(p.watch)
	p.mu.Unlock()

	telemetry.SetGauge(telemetry.WatchedEntities, count)
	slog.Info("streamer added", slog.String("streamer", name))
	return nil
}

// verify resolves name through Helix, refreshing the token once if it was rejected.
func (p *Poller) verify(ctx context.Context, name string) error {
	if p.creds.Token() == "" {
		if err := p.refresh(ctx); err != nil {
			return fmt.Errorf("verify %s: %w", name, err)
		}
	}
	_, err := p.lookupUser(ctx, name)
	if errors.Is(err, twitchapi.ErrUnauthorized) {
		if rerr := p.refresh(ctx); rerr != nil {
			return fmt.Errorf("verify %s: %w", name, rerr)
		}
		_, err = p.lookupUser(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("verify %s: %w", name, err)
	}
	return nil
}

// Remove takes name off the watch-list and forgets its status. A cycle that is
// already checking name will neither record nor alert for it.
func (p *Poller) Remove(login string) error {
	name := NormalizeName(login)
	p.mu.Lock()
	if _, ok := p.watch[name]; !ok {
		p.mu.Unlock()
		return ErrNotWatched
	}
	delete(p.watch, name)
	delete(p.live, name)
	count := len(p.watch)
	p.mu.Unlock()

	telemetry.SetGauge(telemetry.WatchedEntities, count)
	slog.Info("streamer removed", slog.String("streamer", name))
	return nil
}

func (p *Poller) entries() []entry {
	p.mu.Lock()
	out := make([]entry, 0, len(p.watch))
	for n, g := range p.watch {
		out = append(out, entry{name: n, gen: g})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// List returns a sorted snapshot of the watch-list.
func (p *Poller) List() []string {
	p.mu.Lock()
	names := make([]string, 0, len(p.watch))
	for n := range p.watch {
		names = append(names, n)
	}
	p.mu.Unlock()
	sort.Strings(names)
	return names
}

// Statuses returns a sorted snapshot of every watched entry and its last observed liveness.
func (p *Poller) Statuses() []Status {
	p.mu.Lock()
	out := make([]Status, 0, len(p.watch))
	for n := range p.watch {
		out = append(out, Status{Name: n, Live: p.live[n]})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *Poller) isWatched(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watch[name]
	return ok
}

// commit records an observation for e. It compares against the previous
// value before overwriting it and reports whether this is an offline to live
// edge. watched is false when e left the list while it was being checked,
// including when its name was removed and added again; nothing is recorded in
// that case.
func (p *Poller) commit(e entry, live bool) (alert, watched bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.watch[e.name]; !ok || g != e.gen {
		return false, false
	}
	name := e.name
	prev := p.live[name]
	p.live[name] = live
	return live && !prev, true
}

func (p *Poller) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for name, live := range p.live {
		if _, ok := p.watch[name]; ok && live {
			n++
		}
	}
	return n
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
// A failing or panicking cycle is logged and the loop carries on.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	slog.Info("stream poller started", slog.Duration("interval", p.cfg.Interval), slog.Int("watched", len(p.List())))
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("poll cycle panic", slog.Any("panic", r))
				}
			}()
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("poll cycle aborted", slog.Any("err", err))
			}
		}()
		select {
		case <-ctx.Done():
			slog.Info("stream poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single cycle over a snapshot of the watch-list. It only
// returns an error when the whole cycle had to be abandoned (no token could be
// obtained, or ctx was cancelled); per-entity failures are logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "streams", "poll-cycle")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx)
	telemetry.IncCounter(telemetry.PollCycles)

	var aborted error
	telemetry.TimeFunc(telemetry.PollCycleDuration, func() {
		if p.creds.Token() == "" {
			if err := p.refresh(ctx); err != nil {
				aborted = fmt.Errorf("poll cycle aborted: %w", err)
				return
			}
		}
		for _, e := range p.entries() {
			if ctx.Err() != nil {
				aborted = ctx.Err()
				return
			}
			p.checkEntity(ctx, e, &report)
		}
	})
	if aborted != nil {
		telemetry.RecordError(span, aborted)
		span.SetAttributes(attribute.Bool("aborted", true))
		return report, aborted
	}

	telemetry.SetGauge(telemetry.LiveEntities, p.liveCount())
	span.SetAttributes(
		attribute.Int("checked", report.Checked),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("alerts", report.Alerts),
	)
	log.Debug("poll cycle complete", slog.Int("checked", report.Checked), slog.Int("skipped", report.Skipped), slog.Int("alerts", report.Alerts))
	return report, nil
}

// checkEntity resolves, observes and records one entry. At most one token
// refresh happens per entity per cycle and the entity is then skipped.
func (p *Poller) checkEntity(ctx context.Context, e entry, report *CycleReport) {
	name := e.name
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("streamer", name))

	stream, err := p.observe(ctx, name)
	switch {
	case errors.Is(err, twitchapi.ErrUnauthorized):
		telemetry.IncLabel(telemetry.EntityCheckFailures, "unauthorized")
		log.Info("twitch token rejected; refreshing")
		_ = p.refresh(ctx)
		report.Skipped++
		return
	case errors.Is(err, twitchapi.ErrUserNotFound):
		telemetry.IncLabel(telemetry.EntityCheckFailures, "not_found")
		log.Warn("streamer not found")
		report.Skipped++
		return
	case err != nil:
		telemetry.IncLabel(telemetry.EntityCheckFailures, "transient")
		log.Warn("stream check failed", slog.Any("err", err))
		report.Skipped++
		return
	}

	alert, watched := p.commit(e, stream != nil)
	if !watched {
		log.Debug("streamer removed during check; observation dropped")
		return
	}
	report.Checked++
	if alert {
		report.Alerts++
		p.sendAlert(ctx, name, stream)
	}
}

// observe makes the two dependent Helix calls for name. A nil stream means offline.
func (p *Poller) observe(ctx context.Context, name string) (*twitchapi.Stream, error) {
	user, err := p.lookupUser(ctx, name)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.helix.GetStream(cctx, user.ID)
}

func (p *Poller) lookupUser(ctx context.Context, name string) (twitchapi.User, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.helix.GetUser(cctx, name)
}

func (p *Poller) refresh(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	if _, err := p.creds.Acquire(cctx); err != nil {
		telemetry.IncLabel(telemetry.TokenRefreshes, "failed")
		telemetry.LoggerWithCorr(ctx).Warn("twitch token refresh failed", slog.Any("err", err))
		return err
	}
	telemetry.IncLabel(telemetry.TokenRefreshes, "ok")
	return nil
}

func (p *Poller) sendAlert(ctx context.Context, name string, stream *twitchapi.Stream) {
	telemetry.IncCounter(telemetry.LiveAlerts)
	msg := AlertMessage(name, stream, p.now())
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	if err := p.sink.Deliver(cctx, p.cfg.AlertDestination, msg); err != nil {
		telemetry.IncCounter(telemetry.AlertDeliveryFailed)
		telemetry.LoggerWithCorr(ctx).Warn("live alert delivery failed", slog.String("streamer", name), slog.Any("err", err))
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("live alert sent", slog.String("streamer", name))
}
