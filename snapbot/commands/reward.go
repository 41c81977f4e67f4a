package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/shopspring/decimal"

	"github.com/snap-coin/snapbot/snapbot"
)

var Reward = discord.SlashCommandCreate{
	Name:        "reward",
	Description: "check total rewards for a user",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to check",
			Required:    true,
		},
	},
}

func RewardHandler(b *snapbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		user := e.SlashCommandInteractionData().User("user")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		total, err := b.RewardRepository.Total(ctx, user.ID)
		if err != nil {
			slog.Error("Failed to fetch rewards",
				slog.String("type", "cmd"),
				slog.String("user_id", user.ID.String()),
				slog.Any("error", err))
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{errorEmbed("Sorry, there was an error checking rewards.")},
				Flags:  discord.MessageFlagEphemeral,
			})
		}

		return e.CreateMessage(discord.MessageCreate{
			Content: RewardSummary(user.EffectiveName(), total),
		})
	}
}

// RewardSummary renders a user's total, rounded to payout precision.
func RewardSummary(name string, total float64) string {
	return fmt.Sprintf("%s has %s rewards.", name, decimal.NewFromFloat(total).Round(4).String())
}
