package streams

import (
	"fmt"
	"strconv"
	"time"

	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/twitchapi"
)

// alertColor is the embed accent used for live alerts.
const alertColor = 0x9B59B6

// AlertMessage renders the "went live" announcement for name. stream may be nil
// when only the transition is known.
func AlertMessage(name string, stream *twitchapi.Stream, now time.Time) notify.Message {
	url := "https://twitch.tv/" + name
	display := name
	if stream != nil && stream.UserName != "" {
		display = stream.UserName
	}

	embed := &notify.Embed{
		Title:       fmt.Sprintf("🔴 %s is now live!", display),
		URL:         url,
		Description: "No title",
		Color:       alertColor,
		Timestamp:   now.UTC(),
	}
	game := "Unknown"
	viewers := 0
	if stream != nil {
		if stream.Title != "" {
			embed.Description = stream.Title
		}
		if stream.GameName != "" {
			game = stream.GameName
		}
		viewers = stream.ViewerCount
		if stream.ThumbnailURL != "" {
			embed.ThumbnailURL = stream.Thumbnail(440, 248)
		}
	}
	embed.Fields = []notify.Field{
		{Name: "🎮 Game", Value: game, Inline: true},
		{Name: "👥 Viewers", Value: strconv.Itoa(viewers), Inline: true},
	}

	return notify.Message{
		Content: fmt.Sprintf("🔔 **%s** just went live! Check them out at %s", display, url),
		Embed:   embed,
	}
}
