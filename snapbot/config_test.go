package snapbot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Bot.Token = "token"
	cfg.Bot.GuildID = snowflake.ID(1234)
	cfg.Payout.Secret = "secret"
	cfg.Payout.URL = "https://faucet.example"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, time.Hour, cfg.Lottery.Period())
	assert.Equal(t, time.Hour, cfg.Lottery.MinTenure())
	assert.Equal(t, 60*time.Second, cfg.Lottery.RetryBackoff())
	assert.Equal(t, 24*time.Hour, cfg.Payout.Interval())
	assert.Equal(t, 10*time.Second, cfg.Payout.Timeout())
	assert.Equal(t, 50, cfg.Wallet.AddressLength)
	assert.InDelta(t, 0.1, cfg.Lottery.RewardAmount, 1e-9)
}

func TestConfig_applyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"DISCORD_TOKEN":           "abc",
		"GUILD_ID":                "1100",
		"SNAPSHOT_LOTTERY_TIME":   "15",
		"LOTTERY_REWARD_AMOUNT":   "0.25",
		"REWARD_EMOJI":            "✅",
		"PAYOUT_INTERVAL_SECONDS": "3600",
		"FAUCET_LINK":             "https://faucet.example/payout",
		"SECRET_KEY":              "s3cret",
		"REWARDS_DB":              "/tmp/rewards.db",
		"MIN_MEMBER_TENURE":       "30",
		"WALLET_ADDRESS_LENGTH":   "42",
		"PAYOUT_CHANNEL_ID":       "2200",
	}))
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Bot.Token)
	assert.Equal(t, snowflake.ID(1100), cfg.Bot.GuildID)
	assert.Equal(t, 15*time.Minute, cfg.Lottery.Period())
	assert.InDelta(t, 0.25, cfg.Lottery.RewardAmount, 1e-9)
	assert.Equal(t, "✅", cfg.Lottery.RewardEmoji)
	assert.Equal(t, time.Hour, cfg.Payout.Interval())
	assert.Equal(t, "https://faucet.example/payout", cfg.Payout.URL)
	assert.Equal(t, "s3cret", cfg.Payout.Secret)
	assert.Equal(t, "/tmp/rewards.db", cfg.DB.Path)
	assert.Equal(t, 30*time.Minute, cfg.Lottery.MinTenure())
	assert.Equal(t, 42, cfg.Wallet.AddressLength)
	assert.Equal(t, snowflake.ID(2200), cfg.Payout.ChannelID)
}

func TestConfig_applyEnvMalformed(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "period", env: map[string]string{"SNAPSHOT_LOTTERY_TIME": "hourly"}},
		{name: "reward", env: map[string]string{"LOTTERY_REWARD_AMOUNT": "lots"}},
		{name: "guild", env: map[string]string{"GUILD_ID": "main"}},
		{name: "interval", env: map[string]string{"PAYOUT_INTERVAL_SECONDS": "1.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			assert.Error(t, cfg.applyEnv(lookupFrom(tt.env)))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Bot.Token = "" }, wantErr: ErrMissingToken},
		{name: "missing secret", mutate: func(c *Config) { c.Payout.Secret = "" }, wantErr: ErrMissingSecret},
		{name: "missing guild", mutate: func(c *Config) { c.Bot.GuildID = 0 }, wantErr: ErrMissingGuild},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	cfg := validConfig()
	cfg.Lottery.RewardAmount = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.DB.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[bot]
token = "file-token"
guild_id = 777

[lottery]
period_minutes = 5
reward_amount = 0.5

[payout]
url = "https://faucet.example"
secret = "file-secret"
`), 0o600))

	cfg, err := LoadConfig(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Bot.Token)
	assert.Equal(t, snowflake.ID(777), cfg.Bot.GuildID)
	assert.Equal(t, 5*time.Minute, cfg.Lottery.Period())
	assert.InDelta(t, 0.5, cfg.Lottery.RewardAmount, 1e-9)
	assert.Equal(t, 50, cfg.Wallet.AddressLength)
}

func TestLoadConfig_MissingSecretIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[bot]
token = "file-token"
guild_id = 777
`), 0o600))

	t.Setenv("SECRET_KEY", "")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
