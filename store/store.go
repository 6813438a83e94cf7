// Package store declares the persistence contract shared by all backends.
package store

import (
	"context"

	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Store is the unified storage interface for market state.
type Store interface {
	// Item registry
	PutItem(ctx context.Context, it *item.Item) error
	GetItem(ctx context.Context, itemID int64) (*item.Item, error)
	ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error)

	// Order ledger. SettlePurchase is the only write and must be atomic:
	// stock decrement, order append and treasury credit commit together or
	// not at all. It returns market.ErrInsufficientStock when no unit is left
	// and market.ErrItemNotFound when the item was never listed.
	SettlePurchase(ctx context.Context, o *order.Order) error
	GetOrder(ctx context.Context, buyer account.Account, seq int64) (*order.Order, error)
	CountOrders(ctx context.Context, buyer account.Account) (int64, error)
	ListOrders(ctx context.Context, buyer account.Account) ([]*order.Order, error)

	// Treasury. DrainTreasury returns market.ErrTreasuryChanged when the
	// balance no longer equals w.Amount.
	TreasuryBalance(ctx context.Context, currency string) (types.Money, error)
	DrainTreasury(ctx context.Context, w *treasury.Withdrawal) error
	ListWithdrawals(ctx context.Context) ([]*treasury.Withdrawal, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
