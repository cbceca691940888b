package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/telemetry"
)

// countWords counts case-insensitive occurrences of "meow" and of "woof" or "bark".
// Occurrences inside longer words count too ("meowmeow" is two meows).
func countWords(content string) (meows, barks int) {
	c := strings.ToLower(content)
	return strings.Count(c, "meow"), strings.Count(c, "woof") + strings.Count(c, "bark")
}

// countMessage updates the counters for one chat message and returns the replies to post.
func (b *Bot) countMessage(ctx context.Context, userID, content string) []string {
	if b.deps.Counters == nil {
		return nil
	}
	meows, barks := countWords(content)
	var replies []string
	if meows > 0 {
		telemetry.IncLabelBy(telemetry.WordsCounted, string(db.Meows), meows)
		if _, err := b.deps.Counters.Increment(ctx, db.Meows, userID, meows); err != nil {
			slog.Warn("meow count update failed", slog.String("user", userID), slog.Any("err", err))
		} else if total, err := b.deps.Counters.Total(ctx, db.Meows); err != nil {
			slog.Warn("meow total lookup failed", slog.Any("err", err))
		} else {
			replies = append(replies, fmt.Sprintf("Meow count: %d", total))
		}
	}
	if barks > 0 {
		telemetry.IncLabelBy(telemetry.WordsCounted, string(db.Barks), barks)
		n, err := b.deps.Counters.Increment(ctx, db.Barks, userID, barks)
		if err != nil {
			slog.Warn("bark count update failed", slog.String("user", userID), slog.Any("err", err))
		} else {
			replies = append(replies, fmt.Sprintf("HISS.. Yeah, don't do that. We're cat people... Your Barks and Woofs: %d", n))
		}
	}
	return replies
}

// welcomeMessage renders the greeting for a new member. rules and intro are
// channel mentions, or plain channel names when the channels don't exist.
func welcomeMessage(mention, rules, intro string) string {
	return "⭐ ⭐ ⭐ ⭐ ⭐ \n" +
		"Welcome " + mention + "!\n\n" +
		"Check out our " + rules + " channel. ✅\n" +
		"Feel free to introduce yourself in " + intro + "! 🙂\n" +
		"If you have any questions or need help, please reach out to @Mods. 🐱\n" +
		"⭐ ⭐ ⭐ ⭐ ⭐"
}
