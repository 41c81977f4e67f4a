package snapbot

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"

	"github.com/snap-coin/snapbot/snapbot/database"
	"github.com/snap-coin/snapbot/snapbot/database/repositories"
	"github.com/snap-coin/snapbot/snapbot/payout"
	"github.com/snap-coin/snapbot/snapbot/rewards"
	"github.com/snap-coin/snapbot/snapbot/utils"
)

func New(cfg Config, version string, commit string) *Bot {
	return &Bot{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
		Tracker: rewards.NewTracker(),
	}
}

type Bot struct {
	Cfg     Config
	Client  bot.Client
	Version string
	Commit  string
	DB      *database.DB

	RewardRepository repositories.RewardRepository
	WalletRepository repositories.WalletRepository
	PayoutRepository repositories.PayoutRepository

	Tracker        *rewards.Tracker
	Lottery        *rewards.LotteryScheduler
	Payouts        *payout.Scheduler
	ProcessManager *utils.BackgroundProcessManager
}

func (b *Bot) SetupBot(listeners ...bot.EventListener) error {
	client, err := disgo.New(b.Cfg.Bot.Token,
		bot.WithGatewayConfigOpts(gateway.WithIntents(
			gateway.IntentGuilds,
			gateway.IntentGuildMessages,
			gateway.IntentMessageContent,
			gateway.IntentGuildMembers,
		)),
		bot.WithCacheConfigOpts(cache.WithCaches(cache.FlagGuilds, cache.FlagMembers)),
		bot.WithEventListeners(listeners...),
	)
	if err != nil {
		return err
	}

	b.Client = client
	return nil
}

func (b *Bot) OnReady(e *events.Ready) {
	slog.Info("Snap bot is now ready",
		slog.String("type", "sys"),
		slog.String("user", e.User.Username),
		slog.String("guild_id", b.Cfg.Bot.GuildID.String()),
		slog.String("version", b.Version),
		slog.String("commit", b.Commit))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Client.SetPresence(ctx,
		gateway.WithWatchingActivity("the chat for lottery winners"),
		gateway.WithOnlineStatus(discord.OnlineStatusOnline)); err != nil {
		slog.Error("Failed to set presence",
			slog.String("type", "sys"),
			slog.Any("error", err))
	}
}
