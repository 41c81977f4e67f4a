package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Wallet struct {
	bun.BaseModel `bun:"table:wallets,alias:wallets"`

	UserID    string    `bun:"user_id,pk"`
	Address   string    `bun:"address,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
