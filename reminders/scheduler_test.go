package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/timeparse"
)

type delivery struct {
	dest notify.Destination
	msg  notify.Message
}

type scriptedSink struct {
	mu    sync.Mutex
	got   []delivery
	fail  map[notify.Destination]bool
	delay time.Duration
}

func (s *scriptedSink) Deliver(ctx context.Context, d notify.Destination, m notify.Message) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivery{dest: d, msg: m})
	if s.fail[d] {
		return errors.New("delivery refused")
	}
	return nil
}

func (s *scriptedSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

var t0 = time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestScheduler(sink notify.Sink, max int) *Scheduler {
	return New(timeparse.New(), sink, Config{SweepInterval: 10 * time.Millisecond, CallTimeout: time.Second, MaxPerOwner: max})
}

func TestScheduleAndSweep(t *testing.T) {
	sink := &scriptedSink{}
	s := newTestScheduler(sink, 0)

	rec, err := s.Schedule("42", notify.ToChannel("7"), "in 10 minutes", "stretch", t0)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if want := t0.Add(600 * time.Second); !rec.DueAt.Equal(want) {
		t.Fatalf("DueAt = %v, want %v", rec.DueAt, want)
	}
	if rec.ID == "" || rec.OwnerID != "42" || !rec.CreatedAt.Equal(t0) {
		t.Fatalf("record = %+v", rec)
	}

	if rep := s.Sweep(context.Background(), t0.Add(599*time.Second)); rep != (SweepReport{}) {
		t.Fatalf("early sweep = %+v, want nothing", rep)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}

	rep := s.Sweep(context.Background(), t0.Add(600*time.Second))
	if rep.Delivered != 1 {
		t.Fatalf("sweep = %+v, want 1 delivered", rep)
	}
	got := sink.deliveries()
	if len(got) != 1 || got[0].dest != notify.ToChannel("7") {
		t.Fatalf("deliveries = %+v", got)
	}
	if got[0].msg.Content != "⏰ <@42> reminder: stretch" {
		t.Errorf("content = %q", got[0].msg.Content)
	}

	// never visited twice
	if rep := s.Sweep(context.Background(), t0.Add(time.Hour)); rep != (SweepReport{}) {
		t.Fatalf("second sweep = %+v", rep)
	}
	if len(sink.deliveries()) != 1 {
		t.Fatal("reminder dispatched twice")
	}
}

func TestScheduleRejectsPastAndInvalid(t *testing.T) {
	s := newTestScheduler(&scriptedSink{}, 0)
	for _, raw := range []string{"yesterday", "5 minutes ago", "now", "25:00", "", "tomorrow at 25:00", "tomorrow at 3:75pm", "in 99999999999 weeks", "in 2000000 weeks"} {
		if _, err := s.Schedule("42", notify.ToChannel("7"), raw, "x", t0); !errors.Is(err, ErrInvalidTime) {
			t.Errorf("Schedule(%q) err = %v, want ErrInvalidTime", raw, err)
		}
	}
	if _, err := s.Schedule("42", notify.ToChannel("7"), "in 1 minute", "   ", t0); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty text err = %v, want ErrEmptyText", err)
	}
	// the time is judged before the text
	if _, err := s.Schedule("42", notify.ToChannel("7"), "yesterday", "", t0); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("past time with empty text err = %v, want ErrInvalidTime", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", s.Pending())
	}
}

func TestScheduleLimitPerOwner(t *testing.T) {
	s := newTestScheduler(&scriptedSink{}, 2)
	for i := 0; i < 2; i++ {
		if _, err := s.Schedule("42", notify.Destination{}, "in 1 hour", "x", t0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Schedule("42", notify.Destination{}, "in 1 hour", "x", t0); !errors.Is(err, ErrTooManyReminders) {
		t.Fatalf("err = %v, want ErrTooManyReminders", err)
	}
	if _, err := s.Schedule("43", notify.Destination{}, "in 1 hour", "x", t0); err != nil {
		t.Fatalf("other owner should not be limited: %v", err)
	}
}

func TestScheduleDefaultsToDirectMessage(t *testing.T) {
	s := newTestScheduler(&scriptedSink{}, 0)
	rec, err := s.Schedule("42", notify.Destination{}, "in 1 minute", "x", t0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Destination != notify.ToUser("42") {
		t.Fatalf("destination = %v", rec.Destination)
	}
}

func TestListForOrdersByDue(t *testing.T) {
	s := newTestScheduler(&scriptedSink{}, 0)
	for _, raw := range []string{"in 3 hours", "in 1 hour", "in 2 hours"} {
		if _, err := s.Schedule("42", notify.Destination{}, raw, raw, t0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Schedule("99", notify.Destination{}, "in 30 minutes", "other", t0); err != nil {
		t.Fatal(err)
	}
	list := s.ListFor("42")
	if len(list) != 3 {
		t.Fatalf("ListFor() len = %d, want 3", len(list))
	}
	for i, want := range []string{"in 1 hour", "in 2 hours", "in 3 hours"} {
		if list[i].Text != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Text, want)
		}
	}
	if len(s.ListFor("nobody")) != 0 {
		t.Error("unknown owner should have no reminders")
	}
	if all := s.All(); len(all) != 4 || all[0].Text != "other" {
		t.Errorf("All() = %+v", all)
	}
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(&scriptedSink{}, 0)
	rec, _ := s.Schedule("42", notify.Destination{}, "in 1 hour", "x", t0)
	if err := s.Cancel("43", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel by other owner err = %v", err)
	}
	if err := s.Cancel("42", rec.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if s.Pending() != 0 {
		t.Fatal("reminder still pending after cancel")
	}
}

func TestSweepFallsBackToDirectMessage(t *testing.T) {
	sink := &scriptedSink{fail: map[notify.Destination]bool{notify.ToChannel("7"): true}}
	s := newTestScheduler(sink, 0)
	if _, err := s.Schedule("42", notify.ToChannel("7"), "in 1 minute", "x", t0); err != nil {
		t.Fatal(err)
	}
	rep := s.Sweep(context.Background(), t0.Add(time.Minute))
	if rep.Fallback != 1 {
		t.Fatalf("sweep = %+v, want 1 fallback", rep)
	}
	got := sink.deliveries()
	if len(got) != 2 || got[1].dest != notify.ToUser("42") {
		t.Fatalf("deliveries = %+v", got)
	}
}

func TestSweepDropsUndeliverable(t *testing.T) {
	sink := &scriptedSink{fail: map[notify.Destination]bool{
		notify.ToChannel("7"): true,
		notify.ToUser("42"):   true,
	}}
	s := newTestScheduler(sink, 0)
	if _, err := s.Schedule("42", notify.ToChannel("7"), "in 1 minute", "x", t0); err != nil {
		t.Fatal(err)
	}
	rep := s.Sweep(context.Background(), t0.Add(time.Minute))
	if rep.Dropped != 1 {
		t.Fatalf("sweep = %+v, want 1 dropped", rep)
	}
	if s.Pending() != 0 {
		t.Fatal("dropped reminder must not be requeued")
	}
	if len(sink.deliveries()) != 2 {
		t.Fatalf("attempts = %d, want 2", len(sink.deliveries()))
	}
}

func TestSweepDirectDestinationFailsOnce(t *testing.T) {
	sink := &scriptedSink{fail: map[notify.Destination]bool{notify.ToUser("42"): true}}
	s := newTestScheduler(sink, 0)
	if _, err := s.Schedule("42", notify.Destination{}, "in 1 minute", "x", t0); err != nil {
		t.Fatal(err)
	}
	if rep := s.Sweep(context.Background(), t0.Add(time.Minute)); rep.Dropped != 1 {
		t.Fatalf("sweep = %+v", rep)
	}
	if len(sink.deliveries()) != 1 {
		t.Fatalf("attempts = %d, want 1 (no fallback to the same DM)", len(sink.deliveries()))
	}
}

func TestOverlappingSweepsDispatchOnce(t *testing.T) {
	sink := &scriptedSink{delay: time.Millisecond}
	s := newTestScheduler(sink, 100)
	for i := 0; i < 50; i++ {
		if _, err := s.Schedule(fmt.Sprint(i%5), notify.ToChannel("7"), "in 1 minute", fmt.Sprint(i), t0); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sweep(context.Background(), t0.Add(time.Minute))
		}()
	}
	wg.Wait()

	seen := map[string]int{}
	for _, d := range sink.deliveries() {
		seen[d.msg.Content]++
	}
	if len(seen) != 50 {
		t.Fatalf("distinct deliveries = %d, want 50", len(seen))
	}
	for content, n := range seen {
		if n != 1 {
			t.Errorf("%q delivered %d times", content, n)
		}
	}
}

func TestScheduleDuringSweep(t *testing.T) {
	sink := &scriptedSink{delay: 5 * time.Millisecond}
	s := newTestScheduler(sink, 100)
	for i := 0; i < 10; i++ {
		if _, err := s.Schedule("42", notify.ToChannel("7"), "in 1 minute", fmt.Sprint(i), t0); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan SweepReport)
	go func() { done <- s.Sweep(context.Background(), t0.Add(time.Minute)) }()
	for i := 0; i < 10; i++ {
		if _, err := s.Schedule("43", notify.ToChannel("7"), "in 2 hours", "later", t0); err != nil {
			t.Fatal(err)
		}
	}
	rep := <-done
	if rep.Delivered != 10 {
		t.Fatalf("sweep = %+v, want 10 delivered", rep)
	}
	if len(s.ListFor("43")) != 10 {
		t.Fatalf("reminders scheduled during sweep were lost: %d", len(s.ListFor("43")))
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	sink := &scriptedSink{}
	s := newTestScheduler(sink, 0)
	now := time.Now()
	if _, err := s.Schedule("42", notify.ToChannel("7"), "in 1s", "x", now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.deliveries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(sink.deliveries()) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sink.deliveries()))
	}
}

func TestResolverFunc(t *testing.T) {
	fixed := t0.Add(time.Hour)
	s := New(ResolverFunc(func(string, time.Time) (time.Time, error) { return fixed, nil }), &scriptedSink{}, Config{})
	rec, err := s.Schedule("1", notify.Destination{}, "whenever", "x", t0)
	if err != nil || !rec.DueAt.Equal(fixed) {
		t.Fatalf("Schedule() = %+v, %v", rec, err)
	}
}
