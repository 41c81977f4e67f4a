package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LotteryRewardKind is the reward kind credited by the lottery.
const LotteryRewardKind = "lottery"

// RewardBalance is one ledger entry keyed by (user, kind). Amount only grows
// through accrual and only drops to zero after a confirmed payout.
type RewardBalance struct {
	bun.BaseModel `bun:"table:reward_balances,alias:reward_balances"`

	UserID    string    `bun:"user_id,pk"`
	Kind      string    `bun:"kind,pk"`
	Amount    float64   `bun:"amount,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PendingPayout is a positive balance joined with the owner's wallet.
type PendingPayout struct {
	UserID  string  `bun:"user_id"`
	Kind    string  `bun:"kind"`
	Amount  float64 `bun:"amount"`
	Address string  `bun:"address"`
}
