package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// SQLite has no native timestamp type; times are stored as RFC 3339 text.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Item models ====================

const itemColumns = `id, name, category, image, cost_amount, cost_currency, rating, stock, created_at, updated_at`

func scanItem(row rowScanner) (*item.Item, error) {
	var (
		it               item.Item
		created, updated string
	)
	err := row.Scan(
		&it.ID, &it.Name, &it.Category, &it.Image,
		&it.Cost.Amount, &it.Cost.Currency,
		&it.Rating, &it.Stock,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if it.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("market/sqlite: item %d created_at: %w", it.ID, err)
	}
	if it.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("market/sqlite: item %d updated_at: %w", it.ID, err)
	}
	return &it, nil
}

// ==================== Order models ====================

const orderColumns = `id, buyer, seq, placed_at, item, tendered_amount, tendered_currency`

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o        order.Order
		orderID  string
		buyer    string
		placedAt string
		snapshot string
	)
	err := row.Scan(&orderID, &buyer, &o.Seq, &placedAt, &snapshot, &o.Tendered.Amount, &o.Tendered.Currency)
	if err != nil {
		return nil, err
	}

	if o.ID, err = id.ParseOrderID(orderID); err != nil {
		return nil, fmt.Errorf("market/sqlite: order id: %w", err)
	}
	o.Buyer = account.Account(buyer)
	if o.Time, err = parseTime(placedAt); err != nil {
		return nil, fmt.Errorf("market/sqlite: order %s placed_at: %w", orderID, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &o.Item); err != nil {
		return nil, fmt.Errorf("market/sqlite: order %s item: %w", orderID, err)
	}
	return &o, nil
}

func marshalSnapshot(it item.Item) (string, error) {
	raw, err := json.Marshal(it)
	if err != nil {
		return "", fmt.Errorf("market/sqlite: marshal item snapshot: %w", err)
	}
	return string(raw), nil
}

// ==================== Withdrawal models ====================

const withdrawalColumns = `id, recipient, amount, currency, withdrawn_at, reference`

func scanWithdrawal(row rowScanner) (*treasury.Withdrawal, error) {
	var (
		w           treasury.Withdrawal
		withdrawID  string
		recipient   string
		withdrawnAt string
		amount      types.Money
	)
	err := row.Scan(&withdrawID, &recipient, &amount.Amount, &amount.Currency, &withdrawnAt, &w.Reference)
	if err != nil {
		return nil, err
	}

	if w.ID, err = id.ParseWithdrawalID(withdrawID); err != nil {
		return nil, fmt.Errorf("market/sqlite: withdrawal id: %w", err)
	}
	w.To = account.Account(recipient)
	w.Amount = amount
	if w.Time, err = parseTime(withdrawnAt); err != nil {
		return nil, fmt.Errorf("market/sqlite: withdrawal %s withdrawn_at: %w", withdrawID, err)
	}
	return &w, nil
}
