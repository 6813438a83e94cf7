package market_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/store/memory"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
	"github.com/xraph/market/wallet"
)

var (
	owner = account.MustParse("0xOwner")
	buyer = account.MustParse("0xbuyer")
	other = account.MustParse("0xother")
)

// events records every notification it receives.
type events struct {
	mu        sync.Mutex
	listed    []int64
	settled   []int64
	rejected  []error
	withdrawn []types.Money
	failed    []error
}

func (e *events) Name() string { return "events" }

func (e *events) OnItemListed(_ context.Context, it item.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listed = append(e.listed, it.ID)
	return nil
}

func (e *events) OnPurchaseSettled(_ context.Context, _ account.Account, itemID int64, _ *order.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settled = append(e.settled, itemID)
	return nil
}

func (e *events) OnPurchaseRejected(_ context.Context, _ account.Account, _ int64, reason error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected = append(e.rejected, reason)
	return nil
}

func (e *events) OnTreasuryWithdrawn(_ context.Context, w *treasury.Withdrawal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.withdrawn = append(e.withdrawn, w.Amount)
	return nil
}

func (e *events) OnWithdrawalFailed(_ context.Context, _ account.Account, _ types.Money, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, err)
	return nil
}

type fixture struct {
	m      *market.Market
	store  *memory.Store
	bank   *wallet.Bank
	events *events
}

func newFixture(t *testing.T, opts ...market.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		bank:   wallet.NewBank(),
		events: &events{},
	}
	opts = append([]market.Option{
		market.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		market.WithCurrency("eth"),
		market.WithPayout(f.bank),
		market.WithPlugin(f.events),
	}, opts...)

	m, err := market.New(owner, f.store, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })

	f.m = m
	return f
}

func unit(n int64) types.Money { return types.Major(n, "eth") }

func shoes(stock int64) *item.Item {
	return &item.Item{
		ID:       1,
		Name:     "Shoes",
		Category: "Clothing",
		Image:    "https://example.com/shoes.png",
		Cost:     unit(1),
		Rating:   4,
		Stock:    stock,
	}
}

// snapshot captures every observable piece of ledger state.
type snapshot struct {
	items       []*item.Item
	orders      []*order.Order
	balance     types.Money
	withdrawals []*treasury.Withdrawal
}

func (f *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()

	items, err := f.m.ListItems(ctx, item.ListOpts{})
	require.NoError(t, err)
	orders, err := f.m.ListOrders(ctx, buyer)
	require.NoError(t, err)
	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	withdrawals, err := f.m.Withdrawals(ctx)
	require.NoError(t, err)

	return snapshot{items: items, orders: orders, balance: balance, withdrawals: withdrawals}
}

func TestNew(t *testing.T) {
	_, err := market.New("  ", memory.New())
	assert.ErrorIs(t, err, account.ErrEmpty)

	_, err = market.New(owner, nil)
	assert.Error(t, err)

	m, err := market.New(" 0xOWNER ", memory.New())
	require.NoError(t, err)
	assert.Equal(t, account.Account("0xowner"), m.Owner())
	assert.Equal(t, market.DefaultCurrency, m.Currency())
	assert.True(t, m.IsOwner("0xowner"))
	assert.False(t, m.IsOwner(buyer))
}

func TestScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.m.List(ctx, owner, shoes(5)))

	got, err := f.m.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stock)
	assert.Equal(t, "Shoes", got.Name)

	o, err := f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Seq)
	assert.Equal(t, int64(5), o.Item.Stock, "order keeps the item as validated")

	got, err = f.m.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Stock)

	count, err := f.m.GetOrderCount(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(1), balance)

	assert.Equal(t, []int64{1}, f.events.listed)
	assert.Equal(t, []int64{1}, f.events.settled)
}

func TestScenarioBUnknownItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	before := f.snapshot(t)

	_, err := f.m.Buy(ctx, buyer, 999999, unit(1))
	assert.ErrorIs(t, err, market.ErrUnknownItem)
	assert.True(t, market.IsRejection(err))
	assert.Equal(t, before, f.snapshot(t))

	require.Len(t, f.events.rejected, 1)
	assert.ErrorIs(t, f.events.rejected[0], market.ErrUnknownItem)
	assert.Empty(t, f.events.settled)
}

func TestScenarioCUnderpayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	before := f.snapshot(t)

	half, err := types.ParseMoney("0.5", "eth")
	require.NoError(t, err)

	_, err = f.m.Buy(ctx, buyer, 1, half)
	assert.ErrorIs(t, err, market.ErrInsufficientPayment)

	var pe *market.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, unit(1), pe.Cost)
	assert.Equal(t, half, pe.Tendered)

	assert.Equal(t, before, f.snapshot(t))
}

func TestScenarioDWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)

	external := f.bank.Balance(owner, "eth")

	w, err := f.m.Withdraw(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, unit(1), w.Amount)
	assert.Equal(t, owner, w.To)
	assert.NotEmpty(t, w.Reference)

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	after := f.bank.Balance(owner, "eth")
	assert.True(t, external.LessThan(after))
	assert.Equal(t, unit(1), after.Subtract(external))

	history, err := f.m.Withdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, w.ID, history[0].ID)
	assert.Equal(t, []types.Money{unit(1)}, f.events.withdrawn)
}

func TestOwnershipInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)
	before := f.snapshot(t)

	for _, caller := range []account.Account{buyer, other, "", "0xowner2"} {
		err := f.m.List(ctx, caller, &item.Item{ID: 2, Cost: unit(1), Stock: 1})
		assert.ErrorIs(t, err, market.ErrUnauthorized)

		_, err = f.m.Withdraw(ctx, caller)
		assert.ErrorIs(t, err, market.ErrUnauthorized)
	}

	// Authorization runs before validation.
	assert.ErrorIs(t, f.m.List(ctx, buyer, &item.Item{ID: -1}), market.ErrUnauthorized)

	assert.Equal(t, before, f.snapshot(t))
	assert.Equal(t, int64(0), f.bank.Balance(buyer, "eth").Amount)
	assert.Equal(t, []int64{1}, f.events.listed)
}

func TestOwnerCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.List(context.Background(), "0XOWNER", shoes(1)))
}

func TestListValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		item  *item.Item
		field string
	}{
		{"nil item", nil, "item"},
		{"zero id", &item.Item{ID: 0, Cost: unit(1)}, "id"},
		{"negative id", &item.Item{ID: -5, Cost: unit(1)}, "id"},
		{"foreign currency", &item.Item{ID: 1, Cost: types.USD(100)}, "cost"},
		{"negative cost", &item.Item{ID: 1, Cost: types.ETH(-1)}, "cost"},
		{"negative stock", &item.Item{ID: 1, Cost: unit(1), Stock: -1}, "stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.m.List(ctx, owner, tt.item)
			assert.ErrorIs(t, err, market.ErrInvalidInput)

			var ve market.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	items, err := f.m.ListItems(ctx, item.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListDefaultsCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	it := &item.Item{ID: 9, Cost: types.Money{Amount: 7}, Stock: 1}
	require.NoError(t, f.m.List(ctx, owner, it))
	assert.Equal(t, types.ETH(7), it.Cost)
	assert.False(t, it.CreatedAt.IsZero())
}

func TestRelistLastWriteWins(t *testing.T) {
	var tick int64
	clock := func() time.Time {
		return time.Unix(1_700_000_000+atomic.AddInt64(&tick, 1), 0)
	}
	f := newFixture(t, market.WithClock(clock))
	ctx := context.Background()

	first := shoes(5)
	require.NoError(t, f.m.List(ctx, owner, first))

	relisted := &item.Item{ID: 1, Name: "Boots", Category: "Clothing", Cost: unit(2), Stock: 1}
	require.NoError(t, f.m.List(ctx, owner, relisted))

	got, err := f.m.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Boots", got.Name)
	assert.Equal(t, unit(2), got.Cost)
	assert.Equal(t, int64(1), got.Stock)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	assert.Equal(t, []int64{1, 1}, f.events.listed)
}

func TestGetItemUnknown(t *testing.T) {
	f := newFixture(t)

	got, err := f.m.GetItem(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, got.Listed())
	assert.False(t, got.InStock())
	assert.Equal(t, types.Zero("eth"), got.Cost)
}

func TestListItemsNegativePaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := int64(1); i <= 3; i++ {
		it := shoes(1)
		it.ID = i
		require.NoError(t, f.m.List(ctx, owner, it))
	}

	items, err := f.m.ListItems(ctx, item.ListOpts{Limit: -2, Offset: -1})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = f.m.ListItems(ctx, item.ListOpts{Limit: 1, Offset: -1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ID)
}

func TestStockNonNegativity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const stock = 3
	require.NoError(t, f.m.List(ctx, owner, shoes(stock)))

	for n := 1; n <= stock+2; n++ {
		_, err := f.m.Buy(ctx, buyer, 1, unit(1))
		if n <= stock {
			assert.NoError(t, err, "buy %d", n)
		} else {
			assert.ErrorIs(t, err, market.ErrInsufficientStock, "buy %d", n)
		}
	}

	got, err := f.m.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)
}

func TestZeroStockListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(0)))

	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	assert.ErrorIs(t, err, market.ErrInsufficientStock)
}

func TestPaymentFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(10)))
	cost := unit(1)

	_, err := f.m.Buy(ctx, buyer, 1, types.ETH(cost.Amount-1))
	assert.ErrorIs(t, err, market.ErrInsufficientPayment)

	_, err = f.m.Buy(ctx, buyer, 1, cost)
	assert.NoError(t, err)

	_, err = f.m.Buy(ctx, buyer, 1, types.ETH(-1))
	assert.ErrorIs(t, err, market.ErrInsufficientPayment)

	_, err = f.m.Buy(ctx, buyer, 1, types.USD(100))
	assert.ErrorIs(t, err, market.ErrCurrencyMismatch)

	// Overpayment is kept in full.
	_, err = f.m.Buy(ctx, buyer, 1, unit(3))
	require.NoError(t, err)

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(4), balance)
}

func TestFreeItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, &item.Item{ID: 5, Cost: types.Zero("eth"), Stock: 1}))

	o, err := f.m.Buy(ctx, buyer, 5, types.Zero("eth"))
	require.NoError(t, err)
	assert.True(t, o.Tendered.IsZero())
}

func TestOrderAccounting(t *testing.T) {
	var tick int64
	clock := func() time.Time {
		// Runs backwards on purpose; ledger time must not.
		return time.Unix(1_800_000_000-atomic.AddInt64(&tick, 1), 0)
	}
	f := newFixture(t, market.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, f.m.List(ctx, owner, shoes(10)))
	require.NoError(t, f.m.List(ctx, owner, &item.Item{ID: 2, Name: "Lamp", Cost: unit(2), Stock: 10}))

	purchases := []struct {
		itemID   int64
		tendered types.Money
	}{
		{1, unit(1)}, {2, unit(2)}, {1, unit(5)}, {2, unit(2)},
	}
	for _, p := range purchases {
		_, err := f.m.Buy(ctx, buyer, p.itemID, p.tendered)
		require.NoError(t, err)
	}

	count, err := f.m.GetOrderCount(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(len(purchases)), count)

	var last time.Time
	for i, p := range purchases {
		o, err := f.m.GetOrder(ctx, buyer, int64(i+1))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), o.Seq)
		assert.Equal(t, p.itemID, o.Item.ID)
		assert.Equal(t, p.tendered, o.Tendered)
		assert.Equal(t, buyer, o.Buyer)
		assert.False(t, o.Time.Before(last), "order %d went back in time", i+1)
		last = o.Time
	}

	// Identities are normalized on lookup too.
	count, err = f.m.GetOrderCount(ctx, "0XBUYER")
	require.NoError(t, err)
	assert.Equal(t, int64(len(purchases)), count)

	count, err = f.m.GetOrderCount(ctx, other)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetOrderOutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)

	for _, index := range []int64{0, -1, 2, 100} {
		_, err := f.m.GetOrder(ctx, buyer, index)
		assert.ErrorIs(t, err, market.ErrIndexOutOfRange, "index %d", index)

		var ie *market.IndexError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, int64(1), ie.Count)
	}

	_, err = f.m.GetOrder(ctx, other, 1)
	assert.ErrorIs(t, err, market.ErrIndexOutOfRange)
}

func TestTreasuryConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(100)))

	var sum types.Money = types.Zero("eth")
	for _, tendered := range []types.Money{unit(1), unit(2), types.ETH(1_500_000_000), types.ETH(500)} {
		_, err := f.m.Buy(ctx, buyer, 1, tendered)
		if err == nil {
			sum = sum.Add(tendered)
		}
	}
	// A rejected purchase adds nothing.
	_, err := f.m.Buy(ctx, other, 1, types.ETH(1))
	require.Error(t, err)

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, balance)

	before := f.bank.Balance(owner, "eth")
	_, err = f.m.Withdraw(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, sum, f.bank.Balance(owner, "eth").Subtract(before))

	balance, err = f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	// Accumulation restarts after a withdrawal.
	_, err = f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)
	balance, err = f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(1), balance)
}

func TestWithdrawEmptyTreasury(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.m.Withdraw(ctx, owner)
	require.NoError(t, err)
	assert.True(t, w.Amount.IsZero())
	assert.Empty(t, f.bank.Entries())
	assert.Empty(t, f.events.withdrawn)

	history, err := f.m.Withdrawals(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWithdrawTransferFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(5)))
	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)

	f.bank.Freeze(owner)
	_, err = f.m.Withdraw(ctx, owner)
	assert.ErrorIs(t, err, market.ErrTransferFailed)
	assert.ErrorIs(t, err, wallet.ErrFrozen)
	assert.True(t, market.IsRetryable(err))

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(1), balance)
	assert.Len(t, f.events.failed, 1)
	assert.Empty(t, f.events.withdrawn)

	f.bank.Unfreeze(owner)
	w, err := f.m.Withdraw(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, unit(1), w.Amount)
}

func TestWithdrawWithoutPayout(t *testing.T) {
	s := memory.New()
	m, err := market.New(owner, s, market.WithCurrency("eth"),
		market.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.List(ctx, owner, shoes(1)))
	_, err = m.Buy(ctx, buyer, 1, unit(1))
	require.NoError(t, err)

	_, err = m.Withdraw(ctx, owner)
	assert.ErrorIs(t, err, market.ErrPayoutNotDefined)

	balance, err := m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(1), balance)
}

func TestWithdrawPayoutFunc(t *testing.T) {
	var paid types.Money
	payout := treasury.PayoutFunc(func(_ context.Context, to account.Account, amount types.Money) (string, error) {
		if to != owner {
			return "", errors.New("wrong recipient")
		}
		paid = amount
		return "tx-1", nil
	})
	f := newFixture(t, market.WithPayout(payout))
	ctx := context.Background()
	require.NoError(t, f.m.List(ctx, owner, shoes(1)))
	_, err := f.m.Buy(ctx, buyer, 1, unit(2))
	require.NoError(t, err)

	w, err := f.m.Withdraw(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", w.Reference)
	assert.Equal(t, unit(2), paid)
}

func TestBuyCancelledContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.List(context.Background(), owner, shoes(1)))
	before := f.snapshot(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.m.Buy(ctx, buyer, 1, unit(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, f.snapshot(t))
}

func TestConcurrentBuyLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const stock = 3
	require.NoError(t, f.m.List(ctx, owner, shoes(stock)))

	var (
		wg       sync.WaitGroup
		settled  atomic.Int64
		outStock atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Buy(ctx, buyer, 1, unit(1))
			switch {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, market.ErrInsufficientStock):
				outStock.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(stock), settled.Load())
	assert.Equal(t, int64(20-stock), outStock.Load())

	count, err := f.m.GetOrderCount(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(stock), count)

	balance, err := f.m.TreasuryBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(stock), balance)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := &events{}
	// Same name as the fixture's listener.
	assert.Error(t, f.m.Subscribe(late))

	assert.True(t, f.m.Unsubscribe("events"))
	require.NoError(t, f.m.Subscribe(late))

	require.NoError(t, f.m.List(ctx, owner, shoes(1)))
	assert.Empty(t, f.events.listed)
	assert.Equal(t, []int64{1}, late.listed)
}
