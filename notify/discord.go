package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
)

// discordAPI is the slice of *discordgo.Session the sink uses.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordSink sends messages through the Discord REST API. Transient failures
// (network errors, 5xx, rate limits) are retried a few times; a missing channel
// or missing permission fails immediately.
type DiscordSink struct {
	api      discordAPI
	attempts uint
	delay    time.Duration
}

// NewDiscordSink wraps a discordgo session (or anything with the same methods).
func NewDiscordSink(api discordAPI) *DiscordSink {
	return &DiscordSink{api: api, attempts: 3, delay: 500 * time.Millisecond}
}

// WithRetry overrides the retry policy.
func (s *DiscordSink) WithRetry(attempts uint, delay time.Duration) *DiscordSink {
	if attempts == 0 {
		attempts = 1
	}
	s.attempts = attempts
	s.delay = delay
	return s
}

// Deliver sends msg to dest.
func (s *DiscordSink) Deliver(ctx context.Context, dest Destination, msg Message) error {
	if dest.ID == "" {
		return fmt.Errorf("deliver: empty destination id")
	}
	channelID := dest.ID
	if dest.Kind == Direct {
		ch, err := s.api.UserChannelCreate(dest.ID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("open dm with %s: %w", dest.ID, err)
		}
		channelID = ch.ID
	}
	send := toMessageSend(msg)
	err := retry.Do(
		func() error {
			_, err := s.api.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
			if err != nil && IsPermanent(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("discord send retry", slog.Uint64("attempt", uint64(n)), slog.String("dest", dest.String()), slog.Any("err", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", dest, err)
	}
	return nil
}

// IsPermanent reports whether a Discord error cannot be fixed by retrying:
// any 4xx except 429.
func IsPermanent(err error) bool {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return false
	}
	code := rerr.Response.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func toMessageSend(msg Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}
	if e := msg.Embed; e != nil {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			URL:         e.URL,
			Description: e.Description,
			Color:       e.Color,
		}
		if !e.Timestamp.IsZero() {
			me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		if e.ThumbnailURL != "" {
			me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		send.Embeds = []*discordgo.MessageEmbed{me}
	}
	return send
}
