package handlers

import (
	"log/slog"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

// ActivityTracker records users that chatted during the current lottery period.
type ActivityTracker interface {
	Track(userID snowflake.ID)
}

var commandPrefixes = []string{"/", "\\", "!"}

// ShouldTrack reports whether a message counts as lottery activity: a human
// in the configured guild writing something that is not a command.
func ShouldTrack(guildID, configuredGuild snowflake.ID, authorIsBot bool, content string) bool {
	if authorIsBot || configuredGuild == 0 || guildID != configuredGuild {
		return false
	}
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(content, prefix) {
			return false
		}
	}
	return true
}

// MessageHandler feeds guild messages into the activity tracker.
func MessageHandler(guildID snowflake.ID, tracker ActivityTracker) bot.EventListener {
	return bot.NewListenerFunc(func(e *events.GuildMessageCreate) {
		author := e.Message.Author
		if !ShouldTrack(e.GuildID, guildID, author.Bot || author.System, e.Message.Content) {
			return
		}
		tracker.Track(author.ID)
		slog.Debug("Tracked active user",
			slog.String("type", "lottery"),
			slog.String("user_id", author.ID.String()),
			slog.String("user_name", author.Username))
	})
}
