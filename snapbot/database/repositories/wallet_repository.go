package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"

	"github.com/snap-coin/snapbot/snapbot/database/models"
	"github.com/snap-coin/snapbot/snapbot/logger"
)

// DefaultWalletAddressLength is the length of a snap coin address.
const DefaultWalletAddressLength = 50

var (
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	ErrWalletNotFound       = errors.New("wallet not registered")
)

var alphanumericRegex = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateWalletAddress checks the address is ASCII alphanumeric and exactly length characters long.
func ValidateWalletAddress(address string, length int) error {
	if len(address) != length {
		return fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidWalletAddress, length, len(address))
	}
	if !alphanumericRegex.MatchString(address) {
		return fmt.Errorf("%w: only letters and digits are allowed", ErrInvalidWalletAddress)
	}
	return nil
}

type WalletRepository interface {
	Register(ctx context.Context, userID snowflake.ID, address string) error
	Lookup(ctx context.Context, userID snowflake.ID) (string, error)
	IsRegistered(ctx context.Context, userID snowflake.ID) (bool, error)
}

type walletRepository struct {
	db            *bun.DB
	addressLength int
}

func NewWalletRepository(db *bun.DB, addressLength int) WalletRepository {
	if addressLength <= 0 {
		addressLength = DefaultWalletAddressLength
	}
	return &walletRepository{db: db, addressLength: addressLength}
}

// Register stores the address for userID, replacing any previous one.
// Invalid addresses are rejected before anything is written.
func (r *walletRepository) Register(ctx context.Context, userID snowflake.ID, address string) error {
	if err := ValidateWalletAddress(address, r.addressLength); err != nil {
		return err
	}

	start := time.Now()
	_, err := r.db.NewInsert().
		Model(&models.Wallet{
			UserID:    userID.String(),
			Address:   address,
			UpdatedAt: time.Now(),
		}).
		On("CONFLICT (user_id) DO UPDATE").
		Set("address = EXCLUDED.address").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	logger.LogQuery("register_wallet", time.Since(start), err, "user_id", userID.String())
	if err != nil {
		return fmt.Errorf("failed to register wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) Lookup(ctx context.Context, userID snowflake.ID) (string, error) {
	wallet := new(models.Wallet)
	err := r.db.NewSelect().
		Model(wallet).
		Where("user_id = ?", userID.String()).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrWalletNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up wallet: %w", err)
	}
	if wallet.Address == "" {
		return "", ErrWalletNotFound
	}
	return wallet.Address, nil
}

func (r *walletRepository) IsRegistered(ctx context.Context, userID snowflake.ID) (bool, error) {
	_, err := r.Lookup(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
