// Package order defines settled purchases recorded in the order ledger.
package order

import (
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/types"
)

// Order is created once per settled purchase and never modified.
// Item is a copy of the listing as it was validated, so later stock
// changes do not reach back into history.
type Order struct {
	ID       id.OrderID      `json:"id"`
	Buyer    account.Account `json:"buyer"`
	Seq      int64           `json:"seq"` // 1-based position in the buyer's history
	Time     time.Time       `json:"time"`
	Item     item.Item       `json:"item"`
	Tendered types.Money     `json:"tendered"`
}
