// Package plugin provides the notification surface of the market.
// Plugins implement any subset of the hook interfaces below; the registry
// discovers them by type assertion and calls them synchronously after each
// successful operation, before the operation returns to its caller.
package plugin

import (
	"context"

	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the market starts. m is the *market.Market.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, m any) error
}

// OnShutdown is called when the market stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Registry hooks
// ──────────────────────────────────────────────────

// OnItemListed is called after an item is listed or re-listed.
type OnItemListed interface {
	Plugin
	OnItemListed(ctx context.Context, it item.Item) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseSettled is called after a purchase commits.
type OnPurchaseSettled interface {
	Plugin
	OnPurchaseSettled(ctx context.Context, buyer account.Account, itemID int64, o *order.Order) error
}

// OnPurchaseRejected is called when a purchase fails validation. Nothing
// was mutated; the hook exists for metrics and audit only.
type OnPurchaseRejected interface {
	Plugin
	OnPurchaseRejected(ctx context.Context, buyer account.Account, itemID int64, reason error) error
}

// ──────────────────────────────────────────────────
// Treasury hooks
// ──────────────────────────────────────────────────

// OnTreasuryWithdrawn is called after the treasury is drained to the owner.
type OnTreasuryWithdrawn interface {
	Plugin
	OnTreasuryWithdrawn(ctx context.Context, w *treasury.Withdrawal) error
}

// OnWithdrawalFailed is called when the payout rail refuses a withdrawal.
type OnWithdrawalFailed interface {
	Plugin
	OnWithdrawalFailed(ctx context.Context, to account.Account, amount types.Money, err error) error
}
