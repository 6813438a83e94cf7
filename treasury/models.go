// Package treasury defines the collected balance and its payouts.
package treasury

import (
	"context"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/types"
)

// Withdrawal records one drain of the treasury to the owner.
type Withdrawal struct {
	ID        id.WithdrawalID `json:"id"`
	To        account.Account `json:"to"`
	Amount    types.Money     `json:"amount"`
	Time      time.Time       `json:"time"`
	Reference string          `json:"reference,omitempty"` // payout rail reference
}

// Payout moves value out of the market's custody. Transfer must either
// complete and return a reference, or fail with nothing moved.
type Payout interface {
	Transfer(ctx context.Context, to account.Account, amount types.Money) (reference string, err error)
}

// PayoutFunc adapts a plain function to Payout.
type PayoutFunc func(ctx context.Context, to account.Account, amount types.Money) (string, error)

// Transfer implements Payout.
func (f PayoutFunc) Transfer(ctx context.Context, to account.Account, amount types.Money) (string, error) {
	return f(ctx, to, amount)
}
