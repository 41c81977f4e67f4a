package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LotteryWin records a single draw result.
type LotteryWin struct {
	bun.BaseModel `bun:"table:lottery_wins,alias:lw"`

	ID     int64     `bun:"id,pk,autoincrement"`
	UserID string    `bun:"user_id,notnull"`
	Amount float64   `bun:"amount,notnull"`
	WonAt  time.Time `bun:"won_at,notnull"`
}
