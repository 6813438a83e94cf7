// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	marketstore "github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// compile-time interface check
var _ marketstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an open SQLite database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the SQLite database at dsn, e.g. "file:market.db" or
// "file::memory:". Writers are serialized on a single connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("market/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Item Store ====================

func (s *Store) PutItem(ctx context.Context, it *item.Item) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO market_items (`+itemColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    category = excluded.category,
    image = excluded.image,
    cost_amount = excluded.cost_amount,
    cost_currency = excluded.cost_currency,
    rating = excluded.rating,
    stock = excluded.stock,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`,
		it.ID, it.Name, it.Category, it.Image,
		it.Cost.Amount, it.Cost.Currency,
		it.Rating, it.Stock,
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("market/sqlite: put item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*item.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM market_items WHERE id = ?`, itemID)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, market.ErrItemNotFound
		}
		return nil, fmt.Errorf("market/sqlite: get item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM market_items`
	var args []any

	if opts.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, opts.Category)
	}
	query += ` ORDER BY id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("market/sqlite: list items: %w", err)
	}
	defer rows.Close()

	result := make([]*item.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// ==================== Order Store ====================

// SettlePurchase decrements stock, appends the order and credits the
// treasury in one transaction. The stock guard lives in the UPDATE so
// concurrent writers can never drive stock below zero.
func (s *Store) SettlePurchase(ctx context.Context, o *order.Order) error {
	snapshot, err := marshalSnapshot(o.Item)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("market/sqlite: begin settle: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE market_items SET stock = stock - 1 WHERE id = ? AND stock > 0`, o.Item.ID)
	if err != nil {
		return fmt.Errorf("market/sqlite: decrement stock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("market/sqlite: decrement stock: %w", err)
	} else if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM market_items WHERE id = ?`, o.Item.ID).Scan(&exists)
		if isNoRows(err) {
			return market.ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("market/sqlite: check item: %w", err)
		}
		return market.ErrInsufficientStock
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM market_orders WHERE buyer = ?`, o.Buyer.String()).Scan(&seq)
	if err != nil {
		return fmt.Errorf("market/sqlite: next order seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO market_orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.Buyer.String(), seq, formatTime(o.Time), snapshot,
		o.Tendered.Amount, o.Tendered.Currency,
	)
	if err != nil {
		return fmt.Errorf("market/sqlite: insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO market_treasury (currency, balance) VALUES (?, ?)
ON CONFLICT (currency) DO UPDATE SET balance = balance + excluded.balance`,
		o.Tendered.Currency, o.Tendered.Amount,
	)
	if err != nil {
		return fmt.Errorf("market/sqlite: credit treasury: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("market/sqlite: commit settle: %w", err)
	}
	o.Seq = seq
	return nil
}

func (s *Store) GetOrder(ctx context.Context, buyer account.Account, seq int64) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM market_orders WHERE buyer = ? AND seq = ?`, buyer.String(), seq)
	o, err := scanOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("market/sqlite: get order: %w", err)
	}
	return o, nil
}

func (s *Store) CountOrders(ctx context.Context, buyer account.Account) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM market_orders WHERE buyer = ?`, buyer.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("market/sqlite: count orders: %w", err)
	}
	return count, nil
}

func (s *Store) ListOrders(ctx context.Context, buyer account.Account) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM market_orders WHERE buyer = ? ORDER BY seq ASC`, buyer.String())
	if err != nil {
		return nil, fmt.Errorf("market/sqlite: list orders: %w", err)
	}
	defer rows.Close()

	result := make([]*order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// ==================== Treasury Store ====================

func (s *Store) TreasuryBalance(ctx context.Context, currency string) (types.Money, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM market_treasury WHERE currency = ?`, currency).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return types.Zero(currency), nil
		}
		return types.Money{}, fmt.Errorf("market/sqlite: treasury balance: %w", err)
	}
	return types.Money{Amount: balance, Currency: currency}, nil
}

// DrainTreasury zeroes the balance only if it still equals w.Amount, and
// records w in the same transaction.
func (s *Store) DrainTreasury(ctx context.Context, w *treasury.Withdrawal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("market/sqlite: begin drain: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE market_treasury SET balance = 0 WHERE currency = ? AND balance = ?`,
		w.Amount.Currency, w.Amount.Amount)
	if err != nil {
		return fmt.Errorf("market/sqlite: drain treasury: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("market/sqlite: drain treasury: %w", err)
	}
	if n == 0 && !w.Amount.IsZero() {
		return market.ErrTreasuryChanged
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO market_withdrawals (`+withdrawalColumns+`)
VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.To.String(), w.Amount.Amount, w.Amount.Currency,
		formatTime(w.Time), w.Reference,
	)
	if err != nil {
		return fmt.Errorf("market/sqlite: record withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("market/sqlite: commit drain: %w", err)
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context) ([]*treasury.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM market_withdrawals ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("market/sqlite: list withdrawals: %w", err)
	}
	defer rows.Close()

	result := make([]*treasury.Withdrawal, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
