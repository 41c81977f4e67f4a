package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PayoutStatus string

const (
	PayoutStatusAccepted PayoutStatus = "accepted"
	PayoutStatusSettled  PayoutStatus = "settled"
)

// Payout is the audit row for an accepted batch.
type Payout struct {
	bun.BaseModel `bun:"table:payouts,alias:p"`

	Reference string       `bun:"reference,pk"`
	Receivers int          `bun:"receivers,notnull"`
	Users     int          `bun:"users,notnull"`
	Total     float64      `bun:"total,notnull"`
	Status    PayoutStatus `bun:"status,notnull"`
	TxHash    string       `bun:"tx_hash,nullzero"`
	CreatedAt time.Time    `bun:"created_at,notnull"`
	SettledAt time.Time    `bun:"settled_at,nullzero"`

	PaidUsers []*PayoutUser `bun:"rel:has-many,join:reference=reference"`
}

// PayoutUser is one user whose balance went into a payout.
type PayoutUser struct {
	bun.BaseModel `bun:"table:payout_users,alias:pu"`

	Reference string `bun:"reference,pk"`
	UserID    string `bun:"user_id,pk"`
	Position  int    `bun:"position,notnull"`
}
