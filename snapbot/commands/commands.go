package commands

import "github.com/disgoorg/disgo/discord"

const (
	ErrorColor   = 0xFF0000
	SuccessColor = 0x00FF00
	InfoColor    = 0x0099FF
)

var Commands = []discord.ApplicationCommandCreate{
	Reward,
	AddWallet,
	Wallet,
}

func errorEmbed(description string) discord.Embed {
	return discord.Embed{
		Title:       "Error",
		Description: description,
		Color:       ErrorColor,
	}
}
