package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/streams"
	"github.com/onnwee/meowbot/telemetry"
	"github.com/onnwee/meowbot/twitchapi"
)

const (
	colorGreen  = 0x2ECC71
	colorOrange = 0xE67E22
	colorGold   = 0xF1C40F
	colorRed    = 0xE74C3C
	colorBlue   = 0x3498DB

	leaderboardSize = 10
)

// invocation is a slash command reduced to what the command bodies need.
type invocation struct {
	Name      string
	UserID    string
	ChannelID string
	Roles     []string
	Options   map[string]any
}

func (inv invocation) str(name string) string {
	s, _ := inv.Options[name].(string)
	return strings.TrimSpace(s)
}

func (inv invocation) flag(name string) bool {
	b, _ := inv.Options[name].(bool)
	return b
}

// reply is the final response to a command.
type reply struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

func text(format string, args ...any) reply { return reply{Content: fmt.Sprintf(format, args...)} }

type command struct {
	def *discordgo.ApplicationCommand
	// private responses are only shown to the invoking user
	private bool
	// patrol commands require the patroller role
	patrol bool
	run    func(b *Bot, ctx context.Context, inv invocation) reply
}

func stringOpt(name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    required,
	}
}

var commandTable = []command{
	{
		def: &discordgo.ApplicationCommand{Name: "check", Description: "Check which tracked streamers are currently live"},
		run: (*Bot).cmdCheck,
	},
	{
		def: &discordgo.ApplicationCommand{
			Name:        "add_streamer",
			Description: "Add a new streamer to track (Patrollers only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOpt("streamer_name", "Twitch login of the streamer", true)},
		},
		patrol: true,
		run:    (*Bot).cmdAddStreamer,
	},
	{
		def: &discordgo.ApplicationCommand{
			Name:        "remove_streamer",
			Description: "Remove a streamer from tracking (Patrollers only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOpt("streamer_name", "Twitch login of the streamer", true)},
		},
		patrol: true,
		run:    (*Bot).cmdRemoveStreamer,
	},
	{
		def: &discordgo.ApplicationCommand{Name: "list_streamers", Description: "List the tracked streamers"},
		run: (*Bot).cmdListStreamers,
	},
	{
		def: &discordgo.ApplicationCommand{
			Name:        "remind",
			Description: "Schedule a reminder",
			Options: []*discordgo.ApplicationCommandOption{
				stringOpt("when", "When to remind you, e.g. \"in 10 minutes\" or \"tomorrow 9am\"", true),
				stringOpt("text", "What to remind you about", true),
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "dm",
					Description: "Send the reminder as a direct message instead of in this channel",
				},
			},
		},
		private: true,
		run:     (*Bot).cmdRemind,
	},
	{
		def:     &discordgo.ApplicationCommand{Name: "reminders", Description: "List your pending reminders"},
		private: true,
		run:     (*Bot).cmdReminders,
	},
	{
		def: &discordgo.ApplicationCommand{
			Name:        "cancel_reminder",
			Description: "Cancel one of your pending reminders",
			Options:     []*discordgo.ApplicationCommandOption{stringOpt("id", "Reminder ID from /reminders", true)},
		},
		private: true,
		run:     (*Bot).cmdCancelReminder,
	},
	{
		def: &discordgo.ApplicationCommand{Name: "meow_count", Description: "Check your meow count"},
		run: (*Bot).cmdMeowCount,
	},
	{
		def: &discordgo.ApplicationCommand{Name: "top_meows", Description: "Check the top meow users"},
		run: (*Bot).cmdTopMeows,
	},
	{
		def: &discordgo.ApplicationCommand{Name: "top_barks", Description: "Check the top bark users"},
		run: (*Bot).cmdTopBarks,
	},
}

// Commands returns the application command definitions to register.
func Commands() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(commandTable))
	for _, c := range commandTable {
		defs = append(defs, c.def)
	}
	return defs
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commandTable {
		if c.def.Name == name {
			return c, true
		}
	}
	return command{}, false
}

func (b *Bot) allowed(c command, inv invocation) bool {
	if !c.patrol || b.cfg.PatrollerRoleID == "" {
		return true
	}
	return hasRole(inv.Roles, b.cfg.PatrollerRoleID)
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

var errPanicked = errors.New("command panicked")

// execute runs a command body and never panics.
func (b *Bot) execute(ctx context.Context, inv invocation) (r reply) {
	c, ok := lookupCommand(inv.Name)
	if !ok {
		return text("❌ Unknown command.")
	}
	if !b.allowed(c, inv) {
		return text("❌ You need the 'Patrollers' role to use this command.")
	}
	telemetry.IncLabel(telemetry.CommandsHandled, inv.Name)

	ctx, span := telemetry.StartSpan(ctx, "discord-bot", "command "+inv.Name)
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.LoggerWithCorr(ctx).Error("command panic", slog.String("command", inv.Name), slog.Any("panic", rec))
			telemetry.RecordError(span, errPanicked)
			r = text("❌ Something went wrong running that command.")
		}
	}()
	return c.run(b, ctx, inv)
}

func (b *Bot) cmdCheck(ctx context.Context, _ invocation) reply {
	if b.deps.Watch == nil {
		return text("❌ Stream tracking is not configured.")
	}
	rep, err := b.deps.Watch.CheckLive(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("check command failed", slog.Any("err", err))
		return text("❌ An error occurred while checking streams.")
	}
	return checkReply(rep)
}

func checkReply(rep streams.CheckReport) reply {
	if len(rep.Live) == 0 {
		msg := "😴 No tracked streamers are currently live."
		if rep.Errors > 0 {
			msg += fmt.Sprintf("\n⚠️ (%d errors occurred while checking)", rep.Errors)
		}
		return reply{Content: msg}
	}
	embed := &discordgo.MessageEmbed{
		Title:       "🎮 Live Streams",
		Description: "Currently live tracked streamers:",
		Color:       colorGreen,
	}
	for _, s := range rep.Live {
		game := s.GameName
		if game == "" {
			game = "Unknown"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "🔴 " + s.UserLogin,
			Value: fmt.Sprintf("Playing: %s\nViewers: %d\n[Watch on Twitch](https://twitch.tv/%s)", game, s.ViewerCount, s.UserLogin),
		})
	}
	if rep.Errors > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d streamers could not be checked", rep.Errors)}
	}
	return reply{Embed: embed}
}

func (b *Bot) cmdAddStreamer(ctx context.Context, inv invocation) reply {
	if b.deps.Watch == nil {
		return text("❌ Stream tracking is not configured.")
	}
	name := streams.NormalizeName(inv.str("streamer_name"))
	err := b.deps.Watch.Add(ctx, name)
	switch {
	case err == nil:
		return text("✅ Successfully added %s to tracked streamers!", name)
	case errors.Is(err, streams.ErrInvalidName):
		return text("❌ Please provide a streamer name.")
	case errors.Is(err, streams.ErrAlreadyWatched):
		return text("❌ %s is already being tracked!", name)
	case errors.Is(err, twitchapi.ErrUserNotFound):
		return text("❌ Could not find Twitch user: %s", name)
	default:
		telemetry.LoggerWithCorr(ctx).Warn("add streamer failed", slog.String("name", name), slog.Any("err", err))
		return text("❌ Failed to verify streamer. Please check the name and try again.")
	}
}

func (b *Bot) cmdRemoveStreamer(_ context.Context, inv invocation) reply {
	if b.deps.Watch == nil {
		return text("❌ Stream tracking is not configured.")
	}
	name := streams.NormalizeName(inv.str("streamer_name"))
	if name == "" {
		return text("❌ Please provide a streamer name.")
	}
	if err := b.deps.Watch.Remove(name); err != nil {
		return text("❌ %s is not being tracked!", name)
	}
	return text("✅ Successfully removed %s from tracked streamers!", name)
}

func (b *Bot) cmdListStreamers(context.Context, invocation) reply {
	if b.deps.Watch == nil {
		return text("❌ Stream tracking is not configured.")
	}
	names := b.deps.Watch.List()
	if len(names) == 0 {
		return text("No streamers are being tracked.")
	}
	return text("📺 Tracked streamers: %s", strings.Join(names, ", "))
}

func (b *Bot) cmdRemind(_ context.Context, inv invocation) reply {
	if b.deps.Reminders == nil {
		return text("❌ Reminders are not enabled.")
	}
	dest := notify.ToChannel(inv.ChannelID)
	if inv.flag("dm") || inv.ChannelID == "" {
		dest = notify.Destination{}
	}
	rec, err := b.deps.Reminders.Schedule(inv.UserID, dest, inv.str("when"), inv.str("text"), b.now())
	switch {
	case err == nil:
		where := "here"
		if rec.Destination.Kind == notify.Direct {
			where = "by DM"
		}
		return text("⏰ Reminder set for %s (%s), I'll ping you %s.\nID: `%s`", discordTime(rec.DueAt, "F"), discordTime(rec.DueAt, "R"), where, rec.ID)
	case errors.Is(err, reminders.ErrEmptyText):
		return text("❌ Reminder text can't be empty.")
	case errors.Is(err, reminders.ErrTooManyReminders):
		return text("❌ You already have the maximum number of pending reminders. Cancel one with /cancel_reminder first.")
	case errors.Is(err, reminders.ErrInvalidTime):
		return text("❌ I couldn't understand that time, or it isn't in the future. Try `in 10 minutes`, `tomorrow 9am` or `2025-01-02 15:04`.")
	default:
		return text("❌ Could not schedule the reminder.")
	}
}

func (b *Bot) cmdReminders(_ context.Context, inv invocation) reply {
	if b.deps.Reminders == nil {
		return text("❌ Reminders are not enabled.")
	}
	return remindersReply(b.deps.Reminders.ListFor(inv.UserID))
}

func remindersReply(list []reminders.Record) reply {
	if len(list) == 0 {
		return text("You have no pending reminders.")
	}
	embed := &discordgo.MessageEmbed{Title: "⏰ Your Reminders", Color: colorBlue}
	for _, r := range list {
		// Discord caps embeds at 25 fields
		if len(embed.Fields) == 25 {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("and %d more", len(list)-25)}
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  discordTime(r.DueAt, "f"),
			Value: fmt.Sprintf("%s\nID: `%s`", r.Text, r.ID),
		})
	}
	return reply{Embed: embed}
}

func (b *Bot) cmdCancelReminder(_ context.Context, inv invocation) reply {
	if b.deps.Reminders == nil {
		return text("❌ Reminders are not enabled.")
	}
	id := inv.str("id")
	if err := b.deps.Reminders.Cancel(inv.UserID, id); err != nil {
		return text("❌ No pending reminder of yours has ID `%s`.", id)
	}
	return text("🗑️ Reminder `%s` cancelled.", id)
}

func (b *Bot) cmdMeowCount(ctx context.Context, inv invocation) reply {
	if b.deps.Counters == nil {
		return text("❌ Counters are not enabled.")
	}
	n, ok, err := b.deps.Counters.Get(ctx, db.Meows, inv.UserID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("meow count lookup failed", slog.Any("err", err))
		return text("❌ An error occurred while fetching your meow count.")
	}
	if !ok || n == 0 {
		return reply{Embed: &discordgo.MessageEmbed{
			Title:       "😿 Your Meow Stats",
			Description: "You haven't meowed yet! Try saying meow in chat!",
			Color:       colorRed,
		}}
	}
	return reply{Embed: &discordgo.MessageEmbed{
		Title:       "😺 Your Meow Stats",
		Description: fmt.Sprintf("You have meowed %d times!", n),
		Color:       colorOrange,
	}}
}

func (b *Bot) cmdTopMeows(ctx context.Context, _ invocation) reply {
	return b.leaderboard(ctx, db.Meows, leaderboardStyle{
		title: "🏆 Top Meow Users",
		unit:  "Meows",
		empty: "No users have said 'meow' yet.",
		color: colorGold,
	})
}

func (b *Bot) cmdTopBarks(ctx context.Context, _ invocation) reply {
	return b.leaderboard(ctx, db.Barks, leaderboardStyle{
		title: "😾 Top Bark/Woof Users",
		unit:  "Barks/Woofs",
		empty: "No barks recorded yet.",
		color: colorRed,
	})
}

type leaderboardStyle struct {
	title, unit, empty string
	color              int
}

func (b *Bot) leaderboard(ctx context.Context, c db.Counter, style leaderboardStyle) reply {
	if b.deps.Counters == nil {
		return text("❌ Counters are not enabled.")
	}
	top, err := b.deps.Counters.Top(ctx, c, leaderboardSize)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("leaderboard lookup failed", slog.String("counter", string(c)), slog.Any("err", err))
		return text("❌ An error occurred while fetching the leaderboard.")
	}
	if len(top) == 0 {
		return text("%s", style.empty)
	}
	embed := &discordgo.MessageEmbed{
		Title:       style.title,
		Description: fmt.Sprintf("Here are the top %d users:", leaderboardSize),
		Color:       style.color,
	}
	for i, e := range top {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("#%d", i+1),
			Value: fmt.Sprintf("<@%s>\n%s: %d", e.UserID, style.unit, e.Count),
		})
	}
	return reply{Embed: embed}
}

// discordTime renders t as a Discord timestamp markup in the given style.
func discordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}
