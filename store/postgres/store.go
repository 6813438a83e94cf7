// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	marketstore "github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// compile-time interface check
var _ marketstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the database at databaseURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("market/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ==================== Item Store ====================

const itemColumns = `id, name, category, image, cost_amount, cost_currency, rating, stock, created_at, updated_at`

func (s *Store) PutItem(ctx context.Context, it *item.Item) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO market_items (`+itemColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    category = EXCLUDED.category,
    image = EXCLUDED.image,
    cost_amount = EXCLUDED.cost_amount,
    cost_currency = EXCLUDED.cost_currency,
    rating = EXCLUDED.rating,
    stock = EXCLUDED.stock,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at`,
		it.ID, it.Name, it.Category, it.Image,
		it.Cost.Amount, it.Cost.Currency,
		it.Rating, it.Stock,
		it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("market/postgres: put item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*item.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM market_items WHERE id = $1`, itemID)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, market.ErrItemNotFound
		}
		return nil, fmt.Errorf("market/postgres: get item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM market_items`
	args := pgx.NamedArgs{}

	if opts.Category != "" {
		query += ` WHERE category = @category`
		args["category"] = opts.Category
	}
	query += ` ORDER BY id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT @limit`
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		query += ` OFFSET @offset`
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list items: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*item.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list items: %w", err)
	}
	return result, nil
}

func scanItem(row pgx.Row) (*item.Item, error) {
	var it item.Item
	err := row.Scan(
		&it.ID, &it.Name, &it.Category, &it.Image,
		&it.Cost.Amount, &it.Cost.Currency,
		&it.Rating, &it.Stock,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

// ==================== Order Store ====================

const orderColumns = `id, buyer, seq, placed_at, item, tendered_amount, tendered_currency`

// SettlePurchase decrements stock, appends the order and credits the
// treasury in one transaction. A transaction-scoped advisory lock on the
// buyer keeps sequence numbers dense across processes.
func (s *Store) SettlePurchase(ctx context.Context, o *order.Order) error {
	snapshot, err := json.Marshal(o.Item)
	if err != nil {
		return fmt.Errorf("market/postgres: marshal item snapshot: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE market_items SET stock = stock - 1 WHERE id = $1 AND stock > 0`, o.Item.ID)
		if err != nil {
			return fmt.Errorf("market/postgres: decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM market_items WHERE id = $1)`, o.Item.ID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("market/postgres: check item: %w", err)
			}
			if !exists {
				return market.ErrItemNotFound
			}
			return market.ErrInsufficientStock
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, o.Buyer.String()); err != nil {
			return fmt.Errorf("market/postgres: lock buyer: %w", err)
		}

		var seq int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM market_orders WHERE buyer = $1`, o.Buyer.String()).Scan(&seq)
		if err != nil {
			return fmt.Errorf("market/postgres: next order seq: %w", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO market_orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID.String(), o.Buyer.String(), seq, o.Time, snapshot,
			o.Tendered.Amount, o.Tendered.Currency,
		)
		if err != nil {
			return fmt.Errorf("market/postgres: insert order: %w", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO market_treasury (currency, balance) VALUES ($1, $2)
ON CONFLICT (currency) DO UPDATE SET balance = market_treasury.balance + EXCLUDED.balance`,
			o.Tendered.Currency, o.Tendered.Amount,
		)
		if err != nil {
			return fmt.Errorf("market/postgres: credit treasury: %w", err)
		}

		o.Seq = seq
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, buyer account.Account, seq int64) (*order.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM market_orders WHERE buyer = $1 AND seq = $2`, buyer.String(), seq)
	o, err := scanOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("market/postgres: get order: %w", err)
	}
	return o, nil
}

func (s *Store) CountOrders(ctx context.Context, buyer account.Account) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM market_orders WHERE buyer = $1`, buyer.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("market/postgres: count orders: %w", err)
	}
	return count, nil
}

func (s *Store) ListOrders(ctx context.Context, buyer account.Account) ([]*order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM market_orders WHERE buyer = $1 ORDER BY seq ASC`, buyer.String())
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list orders: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list orders: %w", err)
	}
	return result, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o        order.Order
		orderID  string
		buyer    string
		snapshot []byte
	)
	err := row.Scan(&orderID, &buyer, &o.Seq, &o.Time, &snapshot, &o.Tendered.Amount, &o.Tendered.Currency)
	if err != nil {
		return nil, err
	}

	if o.ID, err = id.ParseOrderID(orderID); err != nil {
		return nil, fmt.Errorf("market/postgres: order id: %w", err)
	}
	o.Buyer = account.Account(buyer)
	o.Time = o.Time.UTC()
	if err := json.Unmarshal(snapshot, &o.Item); err != nil {
		return nil, fmt.Errorf("market/postgres: order %s item: %w", orderID, err)
	}
	return &o, nil
}

// ==================== Treasury Store ====================

const withdrawalColumns = `id, recipient, amount, currency, withdrawn_at, reference`

func (s *Store) TreasuryBalance(ctx context.Context, currency string) (types.Money, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM market_treasury WHERE currency = $1`, currency).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return types.Zero(currency), nil
		}
		return types.Money{}, fmt.Errorf("market/postgres: treasury balance: %w", err)
	}
	return types.Money{Amount: balance, Currency: currency}, nil
}

// DrainTreasury zeroes the balance only if it still equals w.Amount, and
// records w in the same transaction.
func (s *Store) DrainTreasury(ctx context.Context, w *treasury.Withdrawal) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE market_treasury SET balance = 0 WHERE currency = $1 AND balance = $2`,
			w.Amount.Currency, w.Amount.Amount)
		if err != nil {
			return fmt.Errorf("market/postgres: drain treasury: %w", err)
		}
		if tag.RowsAffected() == 0 && !w.Amount.IsZero() {
			return market.ErrTreasuryChanged
		}

		_, err = tx.Exec(ctx, `
INSERT INTO market_withdrawals (`+withdrawalColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID.String(), w.To.String(), w.Amount.Amount, w.Amount.Currency, w.Time, w.Reference,
		)
		if err != nil {
			return fmt.Errorf("market/postgres: record withdrawal: %w", err)
		}
		return nil
	})
}

func (s *Store) ListWithdrawals(ctx context.Context) ([]*treasury.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM market_withdrawals ORDER BY withdrawn_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list withdrawals: %w", err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*treasury.Withdrawal, error) {
		var (
			w          treasury.Withdrawal
			withdrawID string
			recipient  string
			at         time.Time
		)
		err := row.Scan(&withdrawID, &recipient, &w.Amount.Amount, &w.Amount.Currency, &at, &w.Reference)
		if err != nil {
			return nil, err
		}
		if w.ID, err = id.ParseWithdrawalID(withdrawID); err != nil {
			return nil, fmt.Errorf("market/postgres: withdrawal id: %w", err)
		}
		w.To = account.Account(recipient)
		w.Time = at.UTC()
		return &w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("market/postgres: list withdrawals: %w", err)
	}
	return result, nil
}

// isNoRows checks for the pgx no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
