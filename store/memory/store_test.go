package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

func newOrder(buyer account.Account, it *item.Item, tendered types.Money) *order.Order {
	return &order.Order{
		ID:       id.NewOrderID(),
		Buyer:    buyer,
		Time:     time.Now().UTC(),
		Item:     it.Snapshot(),
		Tendered: tendered,
	}
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, it := range []*item.Item{
		{ID: 3, Name: "Hat", Category: "clothing", Cost: types.USD(500), Stock: 1},
		{ID: 1, Name: "Shoes", Category: "clothing", Cost: types.USD(1000), Stock: 10},
		{ID: 2, Name: "Lamp", Category: "home", Cost: types.USD(2500), Stock: 2},
	} {
		require.NoError(t, s.PutItem(ctx, it))
	}

	got, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Shoes", got.Name)

	_, err = s.GetItem(ctx, 99)
	assert.ErrorIs(t, err, market.ErrItemNotFound)

	all, err := s.ListItems(ctx, item.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	clothing, err := s.ListItems(ctx, item.ListOpts{Category: "clothing"})
	require.NoError(t, err)
	assert.Len(t, clothing, 2)

	page, err := s.ListItems(ctx, item.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ID)

	past, err := s.ListItems(ctx, item.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
	unbounded, err := s.ListItems(ctx, item.ListOpts{Limit: -1, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, unbounded, 3)
}

func TestSettlePurchase(t *testing.T) {
	ctx := context.Background()
	s := New()
	buyer := account.MustParse("0xbuyer")

	it := &item.Item{ID: 1, Cost: types.USD(100), Stock: 2}
	require.NoError(t, s.PutItem(ctx, it))

	first := newOrder(buyer, it, types.USD(100))
	require.NoError(t, s.SettlePurchase(ctx, first))
	assert.Equal(t, int64(1), first.Seq)

	second := newOrder(buyer, it, types.USD(150))
	require.NoError(t, s.SettlePurchase(ctx, second))
	assert.Equal(t, int64(2), second.Seq)

	err := s.SettlePurchase(ctx, newOrder(buyer, it, types.USD(100)))
	assert.ErrorIs(t, err, market.ErrInsufficientStock)

	stored, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Stock)

	count, err := s.CountOrders(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	o, err := s.GetOrder(ctx, buyer, 2)
	require.NoError(t, err)
	assert.Equal(t, types.USD(150), o.Tendered)

	_, err = s.GetOrder(ctx, buyer, 3)
	assert.ErrorIs(t, err, market.ErrNotFound)

	balance, err := s.TreasuryBalance(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, types.USD(250), balance)

	err = s.SettlePurchase(ctx, newOrder(buyer, &item.Item{ID: 42}, types.USD(1)))
	assert.ErrorIs(t, err, market.ErrItemNotFound)
}

func TestSettlePurchaseConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	s := New()
	it := &item.Item{ID: 1, Cost: types.USD(100), Stock: 1}
	require.NoError(t, s.PutItem(ctx, it))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for _, name := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(buyer account.Account) {
			defer wg.Done()
			if err := s.SettlePurchase(ctx, newOrder(buyer, it, types.USD(100))); err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}(account.MustParse(name))
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	balance, err := s.TreasuryBalance(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, types.USD(100), balance)
}

func TestDrainTreasury(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := account.MustParse("owner")

	balance, err := s.TreasuryBalance(ctx, "usd")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.Equal(t, "usd", balance.Currency)

	it := &item.Item{ID: 1, Cost: types.USD(100), Stock: 5}
	require.NoError(t, s.PutItem(ctx, it))
	require.NoError(t, s.SettlePurchase(ctx, newOrder("x", it, types.USD(300))))

	stale := &treasury.Withdrawal{ID: id.NewWithdrawalID(), To: owner, Amount: types.USD(100)}
	assert.ErrorIs(t, s.DrainTreasury(ctx, stale), market.ErrTreasuryChanged)

	w := &treasury.Withdrawal{ID: id.NewWithdrawalID(), To: owner, Amount: types.USD(300), Reference: "ref-1"}
	require.NoError(t, s.DrainTreasury(ctx, w))

	balance, err = s.TreasuryBalance(ctx, "usd")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	history, err := s.ListWithdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ref-1", history[0].Reference)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), market.ErrStoreClosed)
	assert.ErrorIs(t, s.PutItem(ctx, &item.Item{ID: 1}), market.ErrStoreClosed)

	_, err := s.GetItem(ctx, 1)
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.ListItems(ctx, item.ListOpts{})
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.GetOrder(ctx, "0xbuyer", 1)
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.CountOrders(ctx, "0xbuyer")
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.ListOrders(ctx, "0xbuyer")
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.TreasuryBalance(ctx, "usd")
	assert.ErrorIs(t, err, market.ErrStoreClosed)
	_, err = s.ListWithdrawals(ctx)
	assert.ErrorIs(t, err, market.ErrStoreClosed)
}
