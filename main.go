package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"

	"github.com/snap-coin/snapbot/snapbot"
	"github.com/snap-coin/snapbot/snapbot/chat"
	"github.com/snap-coin/snapbot/snapbot/commands"
	"github.com/snap-coin/snapbot/snapbot/database"
	"github.com/snap-coin/snapbot/snapbot/database/repositories"
	"github.com/snap-coin/snapbot/snapbot/handlers"
	"github.com/snap-coin/snapbot/snapbot/logger"
	"github.com/snap-coin/snapbot/snapbot/payout"
	"github.com/snap-coin/snapbot/snapbot/rewards"
	"github.com/snap-coin/snapbot/snapbot/utils"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	// bootstrap logger until the configured one is known
	slog.SetDefault(slog.New(logger.NewWriterHandler(os.Stdout, slog.LevelInfo, false)))

	cfg, err := snapbot.LoadConfig(*path, "assets.env", ".env")
	if err != nil {
		slog.Error("Failed to load configuration",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})))

	slog.Info("Starting snap bot",
		slog.String("type", "sys"),
		slog.String("version", version),
		slog.String("commit", commit))

	dbStartTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	db, err := database.New(ctx, database.DBConfig{
		Driver:   cfg.DB.Driver,
		Path:     cfg.DB.Path,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		cancel()
		slog.Error("Database connection failed",
			slog.String("type", "db"),
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		cancel()
		slog.Error("Failed to initialize database schema",
			slog.String("type", "db"),
			slog.Any("error", err))
		os.Exit(-1)
	}
	cancel()
	logger.LogSystem("Database ready",
		slog.String("driver", cfg.DB.Driver),
		logger.Since(dbStartTime))

	b := snapbot.New(*cfg, version, commit)
	b.DB = db
	b.RewardRepository = repositories.NewRewardRepository(db.BunDB())
	b.WalletRepository = repositories.NewWalletRepository(db.BunDB(), cfg.Wallet.AddressLength)
	b.PayoutRepository = repositories.NewPayoutRepository(db.BunDB())

	h := handler.New()
	h.Command("/reward", handlers.WrapWithLogging("reward", commands.RewardHandler(b)))
	h.Command("/add_wallet", handlers.WrapWithLogging("add_wallet", commands.AddWalletHandler(b)))
	h.Command("/wallet", handlers.WrapWithLogging("wallet", commands.WalletHandler(b)))

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady), handlers.MessageHandler(cfg.Bot.GuildID, b.Tracker)); err != nil {
		slog.Error("Failed to setup bot",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("error_details", fmt.Sprintf("%+v", err)),
			slog.String("component", "bot_setup"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	platform := chat.NewPlatform(b.Client)
	b.Lottery = rewards.NewLotteryScheduler(rewards.LotteryConfig{
		GuildID:      cfg.Bot.GuildID,
		Period:       cfg.Lottery.Period(),
		RewardAmount: cfg.Lottery.RewardAmount,
		RewardEmoji:  cfg.Lottery.RewardEmoji,
		MinTenure:    cfg.Lottery.MinTenure(),
		RetryBackoff: cfg.Lottery.RetryBackoff(),
		HistoryLimit: cfg.Lottery.HistoryLimit,
	}, b.Tracker, platform, b.RewardRepository, b.WalletRepository)
	b.Payouts = payout.NewScheduler(payout.Config{
		Interval:            cfg.Payout.Interval(),
		SettleDelay:         cfg.Payout.SettleDelay(),
		ProofAttempts:       cfg.Payout.ProofAttempts,
		MaxConcurrentProofs: cfg.Payout.MaxConcurrentProofs,
		ChannelID:           cfg.Payout.ChannelID,
		RunOnStart:          cfg.Payout.RunOnStart,
	}, b.RewardRepository, payout.NewClient(cfg.Payout.URL, cfg.Payout.Secret, cfg.Payout.Timeout()), b.PayoutRepository, platform)

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds),
		)
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands",
				slog.String("type", "sys"),
				slog.Any("error", err),
				slog.String("component", "command_sync"),
				slog.String("status", "failed"),
			)
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = b.Client.OpenGateway(ctx); err != nil {
		slog.Error("Failed to open gateway",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("component", "gateway"),
			slog.String("status", "failed"),
		)
		os.Exit(-1)
	}

	b.ProcessManager = utils.NewBackgroundProcessManager(context.Background())
	if err := b.ProcessManager.StartProcess("lottery", "periodic lottery draw", b.Lottery.Run); err != nil {
		logger.LogError("Failed to start lottery", err)
		os.Exit(-1)
	}
	if err := b.ProcessManager.StartProcess("payouts", "scheduled reward payouts", b.Payouts.Run); err != nil {
		logger.LogError("Failed to start payouts", err)
		os.Exit(-1)
	}

	logger.LogSystem("Bot is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	logger.LogSystem("Shutting down bot...")

	if err := b.ProcessManager.Shutdown(15 * time.Second); err != nil {
		slog.Warn("Background processes did not stop cleanly", slog.String("type", "sys"), slog.Any("error", err))
	}
}
