// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Stream watcher
	PollCycles          prometheus.Counter
	EntityCheckFailures *prometheus.CounterVec // reason=not_found|unauthorized|transient
	LiveAlerts          prometheus.Counter
	AlertDeliveryFailed prometheus.Counter
	TokenRefreshes      *prometheus.CounterVec // result=ok|failed
	PollCycleDuration   prometheus.Observer
	WatchedEntities     prometheus.Gauge
	LiveEntities        prometheus.Gauge

	// Reminders
	RemindersScheduled  prometheus.Counter
	RemindersRejected   *prometheus.CounterVec // reason=invalid_time|limit|empty
	RemindersDispatched *prometheus.CounterVec // result=delivered|fallback|dropped
	PendingReminders    prometheus.Gauge

	// Discord bot
	CommandsHandled *prometheus.CounterVec // command=check|remind|...
	WordsCounted    *prometheus.CounterVec // counter=meows|barks
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "meowbot_poll_cycles_total", Help: "Number of stream poll cycles started"})
		EntityCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_entity_check_failures_total", Help: "Per-entity status checks that produced no observation"}, []string{"reason"})
		LiveAlerts = promauto.NewCounter(prometheus.CounterOpts{Name: "meowbot_live_alerts_total", Help: "Offline to live transitions alerted"})
		AlertDeliveryFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "meowbot_alert_delivery_failed_total", Help: "Live alerts the sink could not deliver"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_token_refreshes_total", Help: "Twitch app token exchanges"}, []string{"result"})
		PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meowbot_poll_cycle_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		WatchedEntities = promauto.NewGauge(prometheus.GaugeOpts{Name: "meowbot_watched_entities", Help: "Entries on the watch-list"})
		LiveEntities = promauto.NewGauge(prometheus.GaugeOpts{Name: "meowbot_live_entities", Help: "Watched entities last observed live"})
		RemindersScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "meowbot_reminders_scheduled_total", Help: "Reminders accepted"})
		RemindersRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_reminders_rejected_total", Help: "Reminder requests refused"}, []string{"reason"})
		RemindersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_reminders_dispatched_total", Help: "Due reminders taken off the queue"}, []string{"result"})
		PendingReminders = promauto.NewGauge(prometheus.GaugeOpts{Name: "meowbot_pending_reminders", Help: "Reminders waiting to fire"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_commands_handled_total", Help: "Slash commands handled"}, []string{"command"})
		WordsCounted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meowbot_words_counted_total", Help: "Counted words seen in chat messages"}, []string{"counter"})
	})
}

// IncCounter increments c if metrics are initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncLabel increments the labelled child of v if metrics are initialized.
func IncLabel(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

// IncLabelBy adds n to the labelled child of v if metrics are initialized.
func IncLabelBy(v *prometheus.CounterVec, label string, n int) {
	if v != nil && n > 0 {
		v.WithLabelValues(label).Add(float64(n))
	}
}

// SetGauge sets g if metrics are initialized.
func SetGauge(g prometheus.Gauge, n int) {
	if g != nil {
		g.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
