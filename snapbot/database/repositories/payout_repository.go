package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/snap-coin/snapbot/snapbot/database/models"
	"github.com/snap-coin/snapbot/snapbot/logger"
)

var ErrPayoutNotFound = errors.New("payout not found")

// PayoutRepository keeps an audit trail of accepted batches.
type PayoutRepository interface {
	RecordAccepted(ctx context.Context, payout *models.Payout) error
	MarkSettled(ctx context.Context, reference, txHash string, settledAt time.Time) error
	Get(ctx context.Context, reference string) (*models.Payout, error)
	ListUnsettled(ctx context.Context) ([]*models.Payout, error)
}

type payoutRepository struct {
	db *bun.DB
}

func NewPayoutRepository(db *bun.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

// RecordAccepted stores the payout together with the users it paid.
func (r *payoutRepository) RecordAccepted(ctx context.Context, payout *models.Payout) error {
	payout.Status = models.PayoutStatusAccepted
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now()
	}
	for i, u := range payout.PaidUsers {
		u.Reference = payout.Reference
		u.Position = i
	}

	start := time.Now()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(payout).Exec(ctx); err != nil {
			return err
		}
		if len(payout.PaidUsers) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&payout.PaidUsers).Exec(ctx)
		return err
	})
	logger.LogQuery("record_payout", time.Since(start), err,
		"reference", payout.Reference, "paid_users", len(payout.PaidUsers))
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

func (r *payoutRepository) MarkSettled(ctx context.Context, reference, txHash string, settledAt time.Time) error {
	start := time.Now()
	res, err := r.db.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("status = ?", models.PayoutStatusSettled).
		Set("tx_hash = ?", txHash).
		Set("settled_at = ?", settledAt).
		Where("reference = ?", reference).
		Exec(ctx)
	logger.LogQuery("settle_payout", time.Since(start), err, "reference", reference)
	if err != nil {
		return fmt.Errorf("failed to mark payout settled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

func (r *payoutRepository) Get(ctx context.Context, reference string) (*models.Payout, error) {
	payout := new(models.Payout)
	err := r.db.NewSelect().
		Model(payout).
		Relation("PaidUsers", orderPaidUsers).
		Where("p.reference = ?", reference).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return payout, nil
}

func (r *payoutRepository) ListUnsettled(ctx context.Context) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := r.db.NewSelect().
		Model(&payouts).
		Relation("PaidUsers", orderPaidUsers).
		Where("p.status = ?", models.PayoutStatusAccepted).
		Order("p.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled payouts: %w", err)
	}
	return payouts, nil
}

func orderPaidUsers(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("pu.position ASC")
}
