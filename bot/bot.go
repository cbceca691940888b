// Package bot is the Discord command surface: slash commands for the watch-list,
// reminders and counters, chat word counting, and the welcome greeting.
//
// Command bodies return a reply value and never touch the session; the
// handlers in this file translate between discordgo events and those bodies.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/streams"
	"github.com/onnwee/meowbot/telemetry"
)

// Watchlist is the stream poller surface the commands use.
type Watchlist interface {
	Add(ctx context.Context, name string) error
	Remove(name string) error
	List() []string
	CheckLive(ctx context.Context) (streams.CheckReport, error)
}

// ReminderBook is the reminder scheduler surface the commands use.
type ReminderBook interface {
	Schedule(owner string, dest notify.Destination, rawTime, text string, now time.Time) (reminders.Record, error)
	ListFor(owner string) []reminders.Record
	Cancel(owner, id string) error
}

// Deps are the collaborators behind the commands. Nil members make the
// matching commands answer that the feature is not enabled.
type Deps struct {
	Watch     Watchlist
	Reminders ReminderBook
	Counters  db.Counters
}

// Config controls command registration and gating.
type Config struct {
	AppID            string // defaults to the logged-in bot user
	GuildID          string // empty registers global commands
	PatrollerRoleID  string // empty lets everyone edit the watch-list
	WelcomeChannelID string // empty uses the guild system channel
	CommandTimeout   time.Duration
	WelcomeDelay     time.Duration
	Presence         string
}

// Bot wires the command bodies to a discordgo session.
type Bot struct {
	session *discordgo.Session
	deps    Deps
	cfg     Config
	now     func() time.Time
	ctx     context.Context
}

// New registers event handlers on session. Call Run to connect.
func New(session *discordgo.Session, deps Deps, cfg Config) *Bot {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.WelcomeDelay < 0 {
		cfg.WelcomeDelay = 0
	}
	if cfg.Presence == "" {
		cfg.Presence = "Twitch streams"
	}
	b := &Bot{session: session, deps: deps, cfg: cfg, now: time.Now, ctx: context.Background()}
	if session != nil {
		session.Identify.Intents = discordgo.IntentGuilds |
			discordgo.IntentGuildMembers |
			discordgo.IntentGuildMessages |
			discordgo.IntentDirectMessages |
			discordgo.IntentMessageContent
		session.AddHandler(b.onReady)
		session.AddHandler(b.onInteraction)
		session.AddHandler(b.onMessage)
		session.AddHandler(b.onMemberJoin)
	}
	return b
}

// Run opens the gateway connection, registers the slash commands and blocks
// until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			slog.Warn("discord session close", slog.Any("err", err))
		}
	}()

	appID := b.cfg.AppID
	if appID == "" && b.session.State != nil && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	slog.Info("slash commands registered", slog.Int("count", len(registered)), slog.String("guild", b.cfg.GuildID), slog.String("component", "bot"))

	<-ctx.Done()
	slog.Info("discord bot stopping", slog.String("component", "bot"))
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("discord bot connected", slog.String("user", r.User.Username), slog.String("id", r.User.ID), slog.Int("guilds", len(r.Guilds)))
	if err := s.UpdateWatchStatus(0, b.cfg.Presence); err != nil {
		slog.Warn("set presence failed", slog.Any("err", err))
	}
}

func invocationFrom(i *discordgo.Interaction) invocation {
	data := i.ApplicationCommandData()
	inv := invocation{Name: data.Name, ChannelID: i.ChannelID, Options: make(map[string]any, len(data.Options))}
	switch {
	case i.Member != nil:
		inv.Roles = i.Member.Roles
		if i.Member.User != nil {
			inv.UserID = i.Member.User.ID
		}
	case i.User != nil:
		inv.UserID = i.User.ID
	}
	for _, o := range data.Options {
		inv.Options[o.Name] = o.Value
	}
	return inv
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv := invocationFrom(i.Interaction)
	ctx := telemetry.WithCorrelation(b.ctx, i.ID)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("command", inv.Name), slog.String("user", inv.UserID))

	c, ok := lookupCommand(inv.Name)
	if !ok || !b.allowed(c, inv) {
		r := b.execute(ctx, inv)
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: r.Content, Flags: discordgo.MessageFlagsEphemeral},
		})
		if err != nil {
			logger.Warn("interaction respond failed", slog.Any("err", err))
		}
		return
	}

	// Helix calls can outlast the three second acknowledgement window.
	deferred := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if c.private {
		deferred.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, deferred); err != nil {
		logger.Warn("interaction defer failed", slog.Any("err", err))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()
	r := b.execute(cctx, inv)

	edit := &discordgo.WebhookEdit{Content: &r.Content}
	if r.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{r.Embed}
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		logger.Warn("interaction edit failed", slog.Any("err", err))
		return
	}
	logger.Debug("command handled")
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()
	for _, content := range b.countMessage(ctx, m.Author.ID, m.Content) {
		if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference(), discordgo.WithContext(ctx)); err != nil {
			slog.Warn("counter reply failed", slog.String("channel", m.ChannelID), slog.Any("err", err))
		}
	}
}

func (b *Bot) onMemberJoin(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	var g *discordgo.Guild
	if s.State != nil {
		g, _ = s.State.Guild(m.GuildID)
	}
	channelID := b.cfg.WelcomeChannelID
	if channelID == "" && g != nil {
		channelID = g.SystemChannelID
	}
	if channelID == "" {
		slog.Debug("no welcome channel", slog.String("guild", m.GuildID))
		return
	}

	select {
	case <-time.After(b.cfg.WelcomeDelay):
	case <-b.ctx.Done():
		return
	}

	msg := welcomeMessage(m.User.Mention(), channelMention(g, "📜rules"), channelMention(g, "🎤introdox-yourself"))
	if _, err := s.ChannelMessageSend(channelID, msg, discordgo.WithContext(b.ctx)); err != nil {
		slog.Warn("welcome message failed", slog.String("guild", m.GuildID), slog.String("channel", channelID), slog.Any("err", err))
	}
}

// channelMention returns a mention of the guild text channel called name, or "#name".
func channelMention(g *discordgo.Guild, name string) string {
	if g != nil {
		for _, ch := range g.Channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
				return ch.Mention()
			}
		}
	}
	return "#" + name
}
