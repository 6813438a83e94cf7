// Package memory is an in-process store.Store for tests and single-node use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Item registry
	items map[int64]item.Item

	// Order ledger, per buyer in seq order
	orders map[account.Account][]order.Order

	// Treasury
	balance     types.Money
	withdrawals []treasury.Withdrawal

	closed bool
}

func New() *Store {
	return &Store{
		items:  make(map[int64]item.Item),
		orders: make(map[account.Account][]order.Order),
	}
}

// Item registry

func (s *Store) PutItem(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return market.ErrStoreClosed
	}
	s.items[it.ID] = *it
	return nil
}

func (s *Store) GetItem(_ context.Context, itemID int64) (*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, market.ErrStoreClosed
	}

	if it, ok := s.items[itemID]; ok {
		return &it, nil
	}
	return nil, market.ErrItemNotFound
}

func (s *Store) ListItems(_ context.Context, opts item.ListOpts) ([]*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, market.ErrStoreClosed
	}

	result := make([]*item.Item, 0, len(s.items))
	for _, it := range s.items {
		if opts.Category == "" || it.Category == opts.Category {
			it := it
			result = append(result, &it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	// Apply limit/offset. Negative values mean no bound.
	start := min(max(opts.Offset, 0), len(result))
	end := len(result)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, end)
	}

	return result[start:end], nil
}

// Order ledger

func (s *Store) SettlePurchase(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return market.ErrStoreClosed
	}

	it, ok := s.items[o.Item.ID]
	if !ok {
		return market.ErrItemNotFound
	}
	if it.Stock <= 0 {
		return market.ErrInsufficientStock
	}
	if s.balance.Currency == "" {
		s.balance = types.Zero(o.Tendered.Currency)
	}
	if !s.balance.SameCurrency(o.Tendered) {
		return market.ErrCurrencyMismatch
	}

	it.Stock--
	s.items[it.ID] = it

	o.Seq = int64(len(s.orders[o.Buyer])) + 1
	s.orders[o.Buyer] = append(s.orders[o.Buyer], *o)
	s.balance = s.balance.Add(o.Tendered)
	return nil
}

func (s *Store) GetOrder(_ context.Context, buyer account.Account, seq int64) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, market.ErrStoreClosed
	}

	history := s.orders[buyer]
	if seq < 1 || seq > int64(len(history)) {
		return nil, market.ErrNotFound
	}
	o := history[seq-1]
	return &o, nil
}

func (s *Store) CountOrders(_ context.Context, buyer account.Account) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, market.ErrStoreClosed
	}

	return int64(len(s.orders[buyer])), nil
}

func (s *Store) ListOrders(_ context.Context, buyer account.Account) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, market.ErrStoreClosed
	}

	history := s.orders[buyer]
	result := make([]*order.Order, len(history))
	for i := range history {
		o := history[i]
		result[i] = &o
	}
	return result, nil
}

// Treasury

func (s *Store) TreasuryBalance(_ context.Context, currency string) (types.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.Money{}, market.ErrStoreClosed
	}

	if s.balance.Currency == "" {
		return types.Zero(currency), nil
	}
	return s.balance, nil
}

func (s *Store) DrainTreasury(_ context.Context, w *treasury.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return market.ErrStoreClosed
	}

	current := s.balance
	if current.Currency == "" {
		current = types.Zero(w.Amount.Currency)
	}
	if !current.Equal(w.Amount) {
		return market.ErrTreasuryChanged
	}

	s.balance = types.Zero(w.Amount.Currency)
	s.withdrawals = append(s.withdrawals, *w)
	return nil
}

func (s *Store) ListWithdrawals(_ context.Context) ([]*treasury.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, market.ErrStoreClosed
	}

	result := make([]*treasury.Withdrawal, len(s.withdrawals))
	for i := range s.withdrawals {
		w := s.withdrawals[i]
		result[i] = &w
	}
	return result, nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return market.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
