package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/snap-coin/snapbot/snapbot"
	"github.com/snap-coin/snapbot/snapbot/database/repositories"
)

var AddWallet = discord.SlashCommandCreate{
	Name:        "add_wallet",
	Description: "add your snap wallet address to receive rewards",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionString{
			Name:        "wallet_address",
			Description: "Your snap coin wallet address",
			Required:    true,
		},
	},
}

var Wallet = discord.SlashCommandCreate{
	Name:        "wallet",
	Description: "show the wallet address your rewards are paid to",
}

func AddWalletHandler(b *snapbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		address := strings.TrimSpace(e.SlashCommandInteractionData().String("wallet_address"))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := b.WalletRepository.Register(ctx, e.User().ID, address)
		if err != nil && !errors.Is(err, repositories.ErrInvalidWalletAddress) {
			slog.Error("Failed to register wallet",
				slog.String("type", "cmd"),
				slog.String("user_id", e.User().ID.String()),
				slog.Any("error", err))
		}

		return e.CreateMessage(discord.MessageCreate{
			Content: AddWalletReply(e.User().EffectiveName(), address, err),
			Flags:   discord.MessageFlagEphemeral,
		})
	}
}

// AddWalletReply is the ephemeral answer to /add_wallet for the given outcome.
func AddWalletReply(name, address string, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("%s, your wallet address %s has been added.", name, address)
	case errors.Is(err, repositories.ErrInvalidWalletAddress):
		return "Invalid wallet address. Please provide a valid snap coin address."
	default:
		return "Sorry, your wallet could not be saved. Please try again later."
	}
}

func WalletHandler(b *snapbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		address, err := b.WalletRepository.Lookup(ctx, e.User().ID)
		switch {
		case errors.Is(err, repositories.ErrWalletNotFound):
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{{
					Title:       "No wallet",
					Description: "You have not connected a wallet yet. Use /add_wallet to receive your rewards.",
					Color:       InfoColor,
				}},
				Flags: discord.MessageFlagEphemeral,
			})
		case err != nil:
			return e.CreateMessage(discord.MessageCreate{
				Embeds: []discord.Embed{errorEmbed("Failed to fetch your wallet. Please try again later.")},
				Flags:  discord.MessageFlagEphemeral,
			})
		}

		return e.CreateMessage(discord.MessageCreate{
			Embeds: []discord.Embed{{
				Title:       "💼 Wallet",
				Description: fmt.Sprintf("Rewards are paid to `%s`", address),
				Color:       SuccessColor,
			}},
			Flags: discord.MessageFlagEphemeral,
		})
	}
}
