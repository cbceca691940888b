// Package reminders keeps pending one-shot reminders in memory and fires them
// once their due time has passed.
//
// Pending reminders are not persisted; a restart loses them.
package reminders

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
)

var (
	// ErrInvalidTime is returned when the time expression cannot be resolved
	// or does not lie strictly in the future.
	ErrInvalidTime = errors.New("invalid reminder time")
	// ErrTooManyReminders is returned when the owner already has the maximum number pending.
	ErrTooManyReminders = errors.New("too many pending reminders")
	// ErrEmptyText is returned for a reminder with nothing to say.
	ErrEmptyText = errors.New("reminder text is empty")
	// ErrNotFound is returned by Cancel for an unknown id.
	ErrNotFound = errors.New("reminder not found")
)

// Resolver turns a free-form time expression into an instant relative to ref.
type Resolver interface {
	Resolve(raw string, ref time.Time) (time.Time, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(raw string, ref time.Time) (time.Time, error)

func (f ResolverFunc) Resolve(raw string, ref time.Time) (time.Time, error) { return f(raw, ref) }

// Record is one pending reminder.
type Record struct {
	ID          string             `json:"id"`
	OwnerID     string             `json:"owner_id"`
	Destination notify.Destination `json:"destination"`
	DueAt       time.Time          `json:"due_at"`
	Text        string             `json:"text"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Config tunes the scheduler.
type Config struct {
	// SweepInterval is the time between sweeps (default 30s).
	SweepInterval time.Duration
	// CallTimeout bounds each delivery attempt (default 10s).
	CallTimeout time.Duration
	// MaxPerOwner caps pending reminders per owner (default 25).
	MaxPerOwner int
}

// SweepReport counts what a sweep did with the due reminders it took.
type SweepReport struct {
	Delivered int
	Fallback  int
	Dropped   int
}

// Scheduler holds pending reminders. All methods are safe for concurrent use.
type Scheduler struct {
	resolver Resolver
	sink     notify.Sink
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]Record
}

// New creates a Scheduler. Zero config values fall back to defaults.
func New(resolver Resolver, sink notify.Sink, cfg Config) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxPerOwner <= 0 {
		cfg.MaxPerOwner = 25
	}
	return &Scheduler{
		resolver: resolver,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		pending:  make(map[string]Record),
	}
}

// Schedule resolves rawTime against now and queues a reminder for owner.
// The time is checked before the text, so an unusable time is reported as
// ErrInvalidTime even when text is also empty.
// An empty destination means a direct message to the owner.
func (s *Scheduler) Schedule(owner string, dest notify.Destination, rawTime, text string, now time.Time) (Record, error) {
	due, err := s.resolver.Resolve(rawTime, now)
	if err != nil {
		telemetry.IncLabel(telemetry.RemindersRejected, "invalid_time")
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	if !due.After(now) {
		telemetry.IncLabel(telemetry.RemindersRejected, "invalid_time")
		return Record{}, fmt.Errorf("%w: %s is not in the future", ErrInvalidTime, due.Format(time.RFC3339))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		telemetry.IncLabel(telemetry.RemindersRejected, "empty")
		return Record{}, ErrEmptyText
	}
	if dest.ID == "" {
		dest = notify.ToUser(owner)
	}
	rec := Record{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Destination: dest,
		DueAt:       due,
		Text:        text,
		CreatedAt:   now,
	}

	s.mu.Lock()
	if s.countFor(owner) >= s.cfg.MaxPerOwner {
		s.mu.Unlock()
		telemetry.IncLabel(telemetry.RemindersRejected, "limit")
		return Record{}, ErrTooManyReminders
	}
	s.pending[rec.ID] = rec
	n := len(s.pending)
	s.mu.Unlock()

	telemetry.IncCounter(telemetry.RemindersScheduled)
	telemetry.SetGauge(telemetry.PendingReminders, n)
	slog.Info("reminder scheduled", slog.String("id", rec.ID), slog.String("owner", owner), slog.Time("due_at", due))
	return rec, nil
}

// countFor must be called with s.mu held.
func (s *Scheduler) countFor(owner string) int {
	n := 0
	for _, r := range s.pending {
		if r.OwnerID == owner {
			n++
		}
	}
	return n
}

// ListFor returns owner's pending reminders ordered by due time.
func (s *Scheduler) ListFor(owner string) []Record {
	s.mu.Lock()
	out := make([]Record, 0)
	for _, r := range s.pending {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	sortByDue(out)
	return out
}

// All returns every pending reminder ordered by due time.
func (s *Scheduler) All() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	s.mu.Unlock()
	sortByDue(out)
	return out
}

// Pending returns the number of queued reminders.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cancel removes one of owner's reminders before it fires.
func (s *Scheduler) Cancel(owner, id string) error {
	s.mu.Lock()
	r, ok := s.pending[id]
	if !ok || r.OwnerID != owner {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.pending, id)
	n := len(s.pending)
	s.mu.Unlock()
	telemetry.SetGauge(telemetry.PendingReminders, n)
	return nil
}

func sortByDue(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DueAt.Equal(rs[j].DueAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].DueAt.Before(rs[j].DueAt)
	})
}

// takeDue removes and returns every record due at now. Once taken, a record
// belongs to the caller alone, so overlapping sweeps never share one.
func (s *Scheduler) takeDue(now time.Time) ([]Record, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Record
	for id, r := range s.pending {
		if !r.DueAt.After(now) {
			due = append(due, r)
			delete(s.pending, id)
		}
	}
	return due, len(s.pending)
}

// Sweep dispatches every reminder due at now. Each is attempted once at its
// destination, then as a direct message to the owner, and dropped if both fail.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) SweepReport {
	var report SweepReport
	due, left := s.takeDue(now)
	telemetry.SetGauge(telemetry.PendingReminders, left)
	if len(due) == 0 {
		return report
	}
	sortByDue(due)

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "reminders", "sweep")
	defer span.End()
	span.SetAttributes(attribute.Int("due", len(due)))
	log := telemetry.LoggerWithCorr(ctx)

	for _, r := range due {
		switch s.dispatch(ctx, r) {
		case "delivered":
			report.Delivered++
		case "fallback":
			report.Fallback++
		default:
			report.Dropped++
		}
	}
	log.Info("reminder sweep complete", slog.Int("delivered", report.Delivered), slog.Int("fallback", report.Fallback), slog.Int("dropped", report.Dropped))
	return report
}

func (s *Scheduler) dispatch(ctx context.Context, r Record) string {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("id", r.ID), slog.String("owner", r.OwnerID))
	msg := Message(r)

	err := s.deliver(ctx, r.Destination, msg)
	if err == nil {
		telemetry.IncLabel(telemetry.RemindersDispatched, "delivered")
		return "delivered"
	}
	log.Warn("reminder delivery failed", slog.String("dest", r.Destination.String()), slog.Any("err", err))

	direct := notify.ToUser(r.OwnerID)
	if r.Destination != direct {
		if err = s.deliver(ctx, direct, msg); err == nil {
			telemetry.IncLabel(telemetry.RemindersDispatched, "fallback")
			return "fallback"
		}
		log.Warn("reminder fallback delivery failed", slog.Any("err", err))
	}

	telemetry.IncLabel(telemetry.RemindersDispatched, "dropped")
	log.Warn("reminder dropped", slog.String("text", r.Text))
	return "dropped"
}

func (s *Scheduler) deliver(ctx context.Context, dest notify.Destination, msg notify.Message) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.sink.Deliver(cctx, dest, msg)
}

// Message renders the text sent when r fires.
func Message(r Record) notify.Message {
	return notify.Message{Content: fmt.Sprintf("⏰ <@%s> reminder: %s", r.OwnerID, r.Text)}
}

// Run sweeps on the configured cadence until ctx is cancelled. A panicking
// sweep is logged and the loop carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	slog.Info("reminder scheduler started", slog.Duration("interval", s.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder scheduler stopped", slog.Int("pending", s.Pending()))
			return nil
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("reminder sweep panic", slog.Any("panic", r))
					}
				}()
				s.Sweep(ctx, s.now())
			}()
		}
	}
}
