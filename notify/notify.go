// Package notify defines how alerts and reminders reach the chat surface.
//
// The stream watcher and the reminder scheduler only depend on Sink. Delivery
// failures are returned to the caller, which logs them; nothing in this package
// is allowed to take the process down.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind distinguishes a shared channel from a direct message.
type Kind int

const (
	// Channel targets a guild text channel by id.
	Channel Kind = iota
	// Direct targets a user by id; the sink opens the DM channel itself.
	Direct
)

// Destination is where a message goes.
type Destination struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// ToChannel builds a channel destination.
func ToChannel(id string) Destination { return Destination{Kind: Channel, ID: id} }

// ToUser builds a direct-message destination.
func ToUser(id string) Destination { return Destination{Kind: Direct, ID: id} }

func (d Destination) String() string {
	if d.Kind == Direct {
		return "user:" + d.ID
	}
	return "channel:" + d.ID
}

// Field is a name/value row of an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich card attached to a message.
type Embed struct {
	Title        string
	URL          string
	Description  string
	Color        int
	Fields       []Field
	ThumbnailURL string
	Timestamp    time.Time
}

// Message is a rendered notification.
type Message struct {
	Content string
	Embed   *Embed
}

// Sink delivers rendered messages.
type Sink interface {
	Deliver(ctx context.Context, dest Destination, msg Message) error
}

// LogSink writes messages to the log instead of sending them. It backs dry-run
// mode when no Discord token is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; a nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the message.
func (l *LogSink) Deliver(ctx context.Context, dest Destination, msg Message) error {
	if dest.ID == "" {
		return fmt.Errorf("deliver: empty destination id")
	}
	title := ""
	if msg.Embed != nil {
		title = msg.Embed.Title
	}
	l.logger.InfoContext(ctx, "notification (dry run)",
		slog.String("dest", dest.String()),
		slog.String("content", msg.Content),
		slog.String("embed_title", title))
	return nil
}
