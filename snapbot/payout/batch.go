// Package payout batches ledger balances into withdrawal requests against the
// faucet endpoint and follows them up until a transaction hash is known.
package payout

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/disgoorg/snowflake/v2"
	"github.com/shopspring/decimal"

	"github.com/snap-coin/snapbot/snapbot/database/repositories"
)

const (
	ReferenceLength = 30
	AmountPlaces    = 4
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Receiver is one [address, amount] pair of a withdrawal request.
type Receiver struct {
	Address string
	Amount  decimal.Decimal
}

func (r Receiver) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Address, json.Number(r.Amount.String())})
}

// Batch is a single withdrawal request and the users it pays.
type Batch struct {
	Reference string
	Receivers []Receiver
	Users     []snowflake.ID
	Total     decimal.Decimal
}

// BuildBatch groups pending balances by destination and rounds each
// destination's amount. Rows without an address or a positive amount, and
// destinations that round down to nothing, are left out together with their
// users so their balances stay on the ledger.
func BuildBatch(reference string, pending []repositories.Pending) Batch {
	type group struct {
		amount decimal.Decimal
		users  []snowflake.ID
	}

	var order []string
	groups := make(map[string]*group)
	for _, p := range pending {
		if p.Address == "" || p.Amount <= 0 {
			continue
		}
		g, ok := groups[p.Address]
		if !ok {
			g = &group{}
			groups[p.Address] = g
			order = append(order, p.Address)
		}
		g.amount = g.amount.Add(decimal.NewFromFloat(p.Amount))
		g.users = append(g.users, p.UserID)
	}

	batch := Batch{Reference: reference, Total: decimal.Zero}
	seen := make(map[snowflake.ID]struct{})
	for _, address := range order {
		g := groups[address]
		amount := g.amount.Round(AmountPlaces)
		if !amount.IsPositive() {
			continue
		}
		batch.Receivers = append(batch.Receivers, Receiver{Address: address, Amount: amount})
		batch.Total = batch.Total.Add(amount)
		for _, id := range g.users {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			batch.Users = append(batch.Users, id)
		}
	}
	return batch
}

// GenerateReference returns a random lowercase base-36 string of ReferenceLength.
func GenerateReference() (string, error) {
	max := big.NewInt(int64(len(base36Alphabet)))
	buf := make([]byte, ReferenceLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate payout reference: %w", err)
		}
		buf[i] = base36Alphabet[n.Int64()]
	}
	return string(buf), nil
}
