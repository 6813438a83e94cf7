// Package wallet provides an in-memory payout rail.
//
// Bank keeps external balances per account so tests and single-node
// deployments can observe value leaving the market's custody.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

var (
	// ErrFrozen is returned when the destination account refuses deposits.
	ErrFrozen = errors.New("wallet: account frozen")
	// ErrInvalidAmount is returned for non-positive transfers.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
)

// compile-time interface check
var _ treasury.Payout = (*Bank)(nil)

// Entry is one movement recorded by the bank.
type Entry struct {
	Reference string
	To        account.Account
	Amount    types.Money
	Time      time.Time
}

// Bank holds external balances keyed by account and currency.
type Bank struct {
	mu       sync.Mutex
	balances map[account.Account]map[string]int64
	frozen   map[account.Account]bool
	entries  []Entry
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[account.Account]map[string]int64),
		frozen:   make(map[account.Account]bool),
	}
}

// Transfer implements treasury.Payout. It credits to with amount and
// returns a reference for the movement.
func (b *Bank) Transfer(ctx context.Context, to account.Account, amount types.Money) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen[to] {
		return "", fmt.Errorf("%w: %s", ErrFrozen, to)
	}

	b.credit(to, amount)
	ref := fmt.Sprintf("bank-%06d", len(b.entries)+1)
	b.entries = append(b.entries, Entry{
		Reference: ref,
		To:        to,
		Amount:    amount,
		Time:      time.Now().UTC(),
	})
	return ref, nil
}

// Deposit seeds an external balance.
func (b *Bank) Deposit(to account.Account, amount types.Money) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(to, amount)
}

// credit adds amount to the balance of to. Caller holds b.mu.
func (b *Bank) credit(to account.Account, amount types.Money) {
	byCurrency, ok := b.balances[to]
	if !ok {
		byCurrency = make(map[string]int64)
		b.balances[to] = byCurrency
	}
	byCurrency[amount.Currency] += amount.Amount
}

// Balance returns the external balance of acct in currency.
func (b *Bank) Balance(acct account.Account, currency string) types.Money {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.Money{Amount: b.balances[acct][currency], Currency: currency}
}

// Freeze makes every later transfer to acct fail until Unfreeze.
func (b *Bank) Freeze(acct account.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[acct] = true
}

// Unfreeze lifts a Freeze.
func (b *Bank) Unfreeze(acct account.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frozen, acct)
}

// Entries returns every successful transfer in order.
func (b *Bank) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
