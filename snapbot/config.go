package snapbot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMissingToken  = errors.New("bot token is not configured (DISCORD_TOKEN)")
	ErrMissingSecret = errors.New("payout secret is not configured (SECRET_KEY)")
	ErrMissingGuild  = errors.New("guild id is not configured (GUILD_ID)")
)

// LoadConfig reads the TOML file at path (optional), then the .env files and
// finally the process environment, which wins over both.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err = toml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("Config file not found, using defaults and environment",
				slog.String("type", "sys"),
				slog.String("path", path))
		default:
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
	}

	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      slog.LevelInfo,
			File:       "logs/bot.log",
			MaxSizeMB:  5,
			MaxBackups: 5,
		},
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "snapbot.db",
			Port:   5432,
		},
		Lottery: LotteryConfig{
			PeriodMinutes:      60,
			RewardAmount:       0.1,
			RewardEmoji:        "🎉",
			MinTenureMinutes:   60,
			RetryBackoffSecond: 60,
			HistoryLimit:       50,
		},
		Payout: PayoutConfig{
			IntervalSeconds:     86400,
			TimeoutSeconds:      10,
			SettleDelaySeconds:  300,
			ProofAttempts:       3,
			MaxConcurrentProofs: 4,
			RunOnStart:          true,
		},
		Wallet: WalletConfig{
			AddressLength: 50,
		},
	}
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Bot     BotConfig     `toml:"bot"`
	DB      DBConfig      `toml:"db"`
	Lottery LotteryConfig `toml:"lottery"`
	Payout  PayoutConfig  `toml:"payout"`
	Wallet  WalletConfig  `toml:"wallet"`
}

type BotConfig struct {
	DevGuilds []snowflake.ID `toml:"dev_guilds"`
	Token     string         `toml:"token"`
	GuildID   snowflake.ID   `toml:"guild_id"`
}

type LogConfig struct {
	Level      slog.Level `toml:"level"`
	File       string     `toml:"file"`
	MaxSizeMB  int        `toml:"max_size_mb"`
	MaxBackups int        `toml:"max_backups"`
}

type DBConfig struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type LotteryConfig struct {
	PeriodMinutes      int     `toml:"period_minutes"`
	RewardAmount       float64 `toml:"reward_amount"`
	RewardEmoji        string  `toml:"reward_emoji"`
	MinTenureMinutes   int     `toml:"min_tenure_minutes"`
	RetryBackoffSecond int     `toml:"retry_backoff_seconds"`
	HistoryLimit       int     `toml:"history_limit"`
}

func (c LotteryConfig) Period() time.Duration {
	return time.Duration(c.PeriodMinutes) * time.Minute
}

func (c LotteryConfig) MinTenure() time.Duration {
	return time.Duration(c.MinTenureMinutes) * time.Minute
}

func (c LotteryConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSecond) * time.Second
}

type PayoutConfig struct {
	URL                 string       `toml:"url"`
	Secret              string       `toml:"secret"`
	ChannelID           snowflake.ID `toml:"channel_id"`
	IntervalSeconds     int          `toml:"interval_seconds"`
	TimeoutSeconds      int          `toml:"timeout_seconds"`
	SettleDelaySeconds  int          `toml:"settle_delay_seconds"`
	ProofAttempts       int          `toml:"proof_attempts"`
	MaxConcurrentProofs int          `toml:"max_concurrent_proofs"`
	RunOnStart          bool         `toml:"run_on_start"`
}

func (c PayoutConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c PayoutConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c PayoutConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySeconds) * time.Second
}

type WalletConfig struct {
	AddressLength int `toml:"address_length"`
}

// applyEnv overlays the environment variable names the bot has always used.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	id := func(key string, dst *snowflake.ID) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		parsed, err := snowflake.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = parsed
		return nil
	}

	str("DISCORD_TOKEN", &c.Bot.Token)
	str("REWARD_EMOJI", &c.Lottery.RewardEmoji)
	str("FAUCET_LINK", &c.Payout.URL)
	str("SECRET_KEY", &c.Payout.Secret)
	str("REWARDS_DB", &c.DB.Path)
	str("DB_DRIVER", &c.DB.Driver)

	if err := id("GUILD_ID", &c.Bot.GuildID); err != nil {
		return err
	}
	if err := id("PAYOUT_CHANNEL_ID", &c.Payout.ChannelID); err != nil {
		return err
	}
	for key, dst := range map[string]*int{
		"SNAPSHOT_LOTTERY_TIME":   &c.Lottery.PeriodMinutes,
		"MIN_MEMBER_TENURE":       &c.Lottery.MinTenureMinutes,
		"PAYOUT_INTERVAL_SECONDS": &c.Payout.IntervalSeconds,
		"WALLET_ADDRESS_LENGTH":   &c.Wallet.AddressLength,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("LOTTERY_REWARD_AMOUNT"); ok && v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LOTTERY_REWARD_AMOUNT %q: %w", v, err)
		}
		c.Lottery.RewardAmount = amount
	}
	return nil
}

// Validate rejects configurations the bot cannot start with.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return ErrMissingToken
	}
	if c.Payout.Secret == "" {
		return ErrMissingSecret
	}
	if c.Bot.GuildID == 0 {
		return ErrMissingGuild
	}
	if c.Payout.URL == "" {
		return errors.New("payout url is not configured (FAUCET_LINK)")
	}
	if c.Lottery.PeriodMinutes <= 0 {
		return fmt.Errorf("lottery period must be positive, got %d minutes", c.Lottery.PeriodMinutes)
	}
	if c.Lottery.RewardAmount <= 0 {
		return fmt.Errorf("lottery reward must be positive, got %v", c.Lottery.RewardAmount)
	}
	if c.Lottery.MinTenureMinutes < 0 {
		return fmt.Errorf("minimum tenure cannot be negative, got %d minutes", c.Lottery.MinTenureMinutes)
	}
	if c.Payout.IntervalSeconds <= 0 {
		return fmt.Errorf("payout interval must be positive, got %d seconds", c.Payout.IntervalSeconds)
	}
	if c.Wallet.AddressLength <= 0 {
		return fmt.Errorf("wallet address length must be positive, got %d", c.Wallet.AddressLength)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	return nil
}
