package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"

	"github.com/snap-coin/snapbot/snapbot/database/models"
	"github.com/snap-coin/snapbot/snapbot/logger"
)

const (
	zeroRetryAttempts  = 5
	zeroAttemptTimeout = 30 * time.Second
)

var (
	ErrInvalidAmount = errors.New("reward amount must be positive")
	// ErrZeroingPending means a confirmed payout could not yet be removed
	// from the ledger. Accruals and new payouts wait until it has been.
	ErrZeroingPending = errors.New("confirmed payout not yet cleared from ledger")
)

// Pending is a payable balance: positive amount and a registered wallet.
type Pending struct {
	UserID  snowflake.ID
	Kind    string
	Amount  float64
	Address string
}

// SettleFunc submits pending balances and reports which users were paid.
// It must only return user IDs once the payout has been confirmed.
type SettleFunc func(ctx context.Context, pending []Pending) (paid []snowflake.ID, err error)

type RewardRepository interface {
	Accrue(ctx context.Context, userID snowflake.ID, kind string, amount float64) error
	AccrueLotteryWin(ctx context.Context, userID snowflake.ID, amount float64, wonAt time.Time) error
	Balance(ctx context.Context, userID snowflake.ID, kind string) (float64, error)
	Total(ctx context.Context, userID snowflake.ID) (float64, error)
	ListPendingPayable(ctx context.Context) ([]Pending, error)
	ZeroBalances(ctx context.Context, userIDs []snowflake.ID) error
	Settle(ctx context.Context, fn SettleFunc) (int, error)
}

type rewardRepository struct {
	db *bun.DB
	// held exclusively across list -> submit -> zero so no accrual can be
	// wiped by a zeroing it was not part of
	settleMu sync.RWMutex
	// users of an accepted payout whose balances are still to be zeroed,
	// guarded by settleMu
	owed        []snowflake.ID
	zeroBackoff time.Duration
	now         func() time.Time
	after       func(time.Duration) <-chan time.Time
}

func NewRewardRepository(db *bun.DB) RewardRepository {
	return &rewardRepository{
		db:          db,
		zeroBackoff: time.Second,
		now:         time.Now,
		after:       time.After,
	}
}

// lockForAccrual takes the shared lock. If an accepted payout is still owed
// its zeroing, that is finished first under the exclusive lock, which is then
// kept for the accrual.
func (r *rewardRepository) lockForAccrual(ctx context.Context) (func(), error) {
	r.settleMu.RLock()
	if len(r.owed) == 0 {
		return r.settleMu.RUnlock, nil
	}
	r.settleMu.RUnlock()

	r.settleMu.Lock()
	if err := r.clearOwed(ctx); err != nil {
		r.settleMu.Unlock()
		return nil, err
	}
	return r.settleMu.Unlock, nil
}

// clearOwed must be called with settleMu held exclusively.
func (r *rewardRepository) clearOwed(ctx context.Context) error {
	if len(r.owed) == 0 {
		return nil
	}
	if err := r.zero(ctx, r.owed); err != nil {
		return fmt.Errorf("%w: %w", ErrZeroingPending, err)
	}
	slog.Info("Cleared balances of earlier payout",
		slog.String("type", "db"),
		slog.Int("users", len(r.owed)))
	r.owed = nil
	return nil
}

func (r *rewardRepository) Accrue(ctx context.Context, userID snowflake.ID, kind string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidAmount, amount)
	}

	unlock, err := r.lockForAccrual(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	start := time.Now()
	err = r.upsert(ctx, r.db, userID, kind, amount)
	logger.LogQuery("accrue", time.Since(start), err,
		"user_id", userID.String(), "kind", kind, "amount", amount)
	return err
}

// AccrueLotteryWin credits the lottery reward and records the win in one transaction.
func (r *rewardRepository) AccrueLotteryWin(ctx context.Context, userID snowflake.ID, amount float64, wonAt time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidAmount, amount)
	}

	unlock, err := r.lockForAccrual(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	start := time.Now()
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.upsert(ctx, tx, userID, models.LotteryRewardKind, amount); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&models.LotteryWin{
				UserID: userID.String(),
				Amount: amount,
				WonAt:  wonAt,
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to record lottery win: %w", err)
		}
		return nil
	})
	logger.LogQuery("accrue_lottery_win", time.Since(start), err,
		"user_id", userID.String(), "amount", amount)
	return err
}

func (r *rewardRepository) upsert(ctx context.Context, db bun.IDB, userID snowflake.ID, kind string, amount float64) error {
	_, err := db.NewInsert().
		Model(&models.RewardBalance{
			UserID:    userID.String(),
			Kind:      kind,
			Amount:    amount,
			UpdatedAt: r.now(),
		}).
		On("CONFLICT (user_id, kind) DO UPDATE").
		Set("amount = ?TableAlias.amount + EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to accrue reward: %w", err)
	}
	return nil
}

func (r *rewardRepository) Balance(ctx context.Context, userID snowflake.ID, kind string) (float64, error) {
	// SUM over no rows is NULL and sqlite types a bare 0 literal as integer
	var amount sql.NullFloat64
	err := r.db.NewSelect().
		Model((*models.RewardBalance)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0.0)").
		Where("user_id = ?", userID.String()).
		Where("kind = ?", kind).
		Scan(ctx, &amount)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount.Float64, nil
}

func (r *rewardRepository) Total(ctx context.Context, userID snowflake.ID) (float64, error) {
	var total sql.NullFloat64
	err := r.db.NewSelect().
		Model((*models.RewardBalance)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0.0)").
		Where("user_id = ?", userID.String()).
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total rewards: %w", err)
	}
	return total.Float64, nil
}

func (r *rewardRepository) ListPendingPayable(ctx context.Context) ([]Pending, error) {
	return r.listPending(ctx)
}

func (r *rewardRepository) listPending(ctx context.Context) ([]Pending, error) {
	start := time.Now()

	var rows []models.PendingPayout
	err := r.db.NewSelect().
		TableExpr("reward_balances AS rb").
		ColumnExpr("rb.user_id, rb.kind, rb.amount, w.address").
		Join("JOIN wallets AS w ON w.user_id = rb.user_id").
		Where("rb.amount > 0").
		Where("w.address IS NOT NULL").
		Where("w.address <> ''").
		OrderExpr("rb.user_id ASC, rb.kind ASC").
		Scan(ctx, &rows)
	logger.LogQuery("list_pending_payable", time.Since(start), err, "rows", len(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payouts: %w", err)
	}

	pending := make([]Pending, 0, len(rows))
	for _, row := range rows {
		id, err := snowflake.Parse(row.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q in ledger: %w", row.UserID, err)
		}
		pending = append(pending, Pending{
			UserID:  id,
			Kind:    row.Kind,
			Amount:  row.Amount,
			Address: row.Address,
		})
	}
	return pending, nil
}

// ZeroBalances resets every kind for the given users in a single statement.
// Only call it after a payout including these users has been confirmed.
func (r *rewardRepository) ZeroBalances(ctx context.Context, userIDs []snowflake.ID) error {
	return r.zero(ctx, userIDs)
}

func (r *rewardRepository) zero(ctx context.Context, userIDs []snowflake.ID) error {
	if len(userIDs) == 0 {
		return nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	start := time.Now()
	res, err := r.db.NewUpdate().
		Model((*models.RewardBalance)(nil)).
		Set("amount = 0").
		Set("updated_at = ?", r.now()).
		Where("user_id IN (?)", bun.In(ids)).
		Exec(ctx)
	var affected int64
	if err == nil {
		affected, _ = res.RowsAffected()
	}
	logger.LogQuery("zero_balances", time.Since(start), err,
		"users", len(ids), "affected_rows", affected)
	if err != nil {
		return fmt.Errorf("failed to zero balances: %w", err)
	}
	return nil
}

// Settle lists pending balances, hands them to fn and zeroes the users fn
// reports as paid, with accruals blocked for the duration. It returns the
// number of pending rows that were offered to fn.
//
// Once fn reports a payout as accepted the zeroing is retried. If it still
// fails the paid users are remembered and nothing else touches the ledger
// until their balances are cleared, so the same rewards are never offered twice.
func (r *rewardRepository) Settle(ctx context.Context, fn SettleFunc) (int, error) {
	r.settleMu.Lock()
	defer r.settleMu.Unlock()

	if err := r.clearOwed(ctx); err != nil {
		return 0, err
	}

	pending, err := r.listPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	paid, err := fn(ctx, pending)
	if err != nil {
		return len(pending), err
	}

	if err := r.zeroWithRetry(ctx, paid); err != nil {
		r.owed = append([]snowflake.ID(nil), paid...)
		return len(pending), fmt.Errorf("%w: %w", ErrZeroingPending, err)
	}
	return len(pending), nil
}

// zeroWithRetry keeps going after ctx is cancelled; the payout it belongs to
// has already been accepted.
func (r *rewardRepository) zeroWithRetry(ctx context.Context, userIDs []snowflake.ID) error {
	base := context.WithoutCancel(ctx)
	backoff := r.zeroBackoff

	var err error
	for attempt := 1; attempt <= zeroRetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(base, zeroAttemptTimeout)
		err = r.zero(attemptCtx, userIDs)
		cancel()
		if err == nil {
			return nil
		}

		slog.Warn("Failed to zero paid balances",
			slog.String("type", "db"),
			slog.Int("users", len(userIDs)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt < zeroRetryAttempts {
			<-r.after(backoff)
			backoff *= 2
		}
	}
	return err
}
