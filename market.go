package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// DefaultCurrency is used when no WithCurrency option is given.
const DefaultCurrency = "usd"

// Market is the marketplace ledger engine.
type Market struct {
	owner    account.Account
	currency string
	store    store.Store
	payout   treasury.Payout
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    func() time.Time

	// mu serializes List, Buy and Withdraw. lastTime is guarded by mu.
	mu       sync.Mutex
	lastTime time.Time
}

// New creates a Market owned by owner. The owner cannot be changed later.
func New(owner account.Account, s store.Store, opts ...Option) (*Market, error) {
	owner, err := account.Parse(owner.String())
	if err != nil {
		return nil, fmt.Errorf("market: owner: %w", err)
	}
	if s == nil {
		return nil, errors.New("market: store is required")
	}

	m := &Market{
		owner:    owner,
		currency: DefaultCurrency,
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		clock:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Option configures a Market instance.
type Option func(*Market)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Market) {
		m.logger = logger
		m.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(m *Market) {
		_ = m.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPayout sets the rail used by Withdraw to pay the owner.
func WithPayout(p treasury.Payout) Option {
	return func(m *Market) {
		m.payout = p
	}
}

// WithCurrency sets the currency every cost and tender must use.
func WithCurrency(currency string) Option {
	return func(m *Market) {
		m.currency = strings.ToLower(currency)
	}
}

// WithClock replaces time.Now as the source of ledger time.
func WithClock(clock func() time.Time) Option {
	return func(m *Market) {
		m.clock = clock
	}
}

// WithHookTimeout bounds how long a single plugin hook may run.
func WithHookTimeout(d time.Duration) Option {
	return func(m *Market) {
		m.plugins.WithTimeout(d)
	}
}

// Start migrates the store and initializes plugins.
func (m *Market) Start(ctx context.Context) error {
	if err := m.store.Migrate(ctx); err != nil {
		return err
	}

	m.plugins.EmitInit(ctx, m)

	m.logger.Info("market started",
		"owner", m.owner,
		"currency", m.currency,
		"plugins", m.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (m *Market) Stop() error {
	m.plugins.EmitShutdown(context.Background())
	return m.store.Close()
}

// Owner returns the account allowed to list items and withdraw.
func (m *Market) Owner() account.Account { return m.owner }

// Currency returns the currency of all costs, tenders and the treasury.
func (m *Market) Currency() string { return m.currency }

// Subscribe attaches a listener at runtime.
func (m *Market) Subscribe(p plugin.Plugin) error { return m.plugins.Register(p) }

// Unsubscribe detaches the named listener.
func (m *Market) Unsubscribe(name string) bool { return m.plugins.Unregister(name) }

// now returns ledger time, which never runs backwards. Caller holds m.mu.
func (m *Market) now() time.Time {
	t := m.clock().UTC()
	if t.Before(m.lastTime) {
		t = m.lastTime
	}
	m.lastTime = t
	return t
}

// ──────────────────────────────────────────────────
// Item Registry
// ──────────────────────────────────────────────────

// List stores it under it.ID, replacing any earlier listing with that id.
// Only the owner may list. On success it is updated with its timestamps.
func (m *Market) List(ctx context.Context, caller account.Account, it *item.Item) error {
	if err := m.authorize(caller, "list"); err != nil {
		return err
	}
	if err := m.validateListing(it); err != nil {
		return err
	}

	listed, err := m.putItem(ctx, *it)
	if err != nil {
		return err
	}
	*it = listed

	m.logger.Debug("item listed",
		"item_id", listed.ID,
		"cost", listed.Cost.String(),
		"stock", listed.Stock,
	)

	m.plugins.EmitItemListed(ctx, listed)
	return nil
}

func (m *Market) putItem(ctx context.Context, it item.Item) (item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	prev, err := m.store.GetItem(ctx, it.ID)
	switch {
	case err == nil:
		it.Entity = prev.Entity
		it.Touch(now)
	case errors.Is(err, ErrItemNotFound):
		it.Entity = types.NewEntity(now)
	default:
		return item.Item{}, err
	}

	if err := ctx.Err(); err != nil {
		return item.Item{}, err
	}
	if err := m.store.PutItem(ctx, &it); err != nil {
		return item.Item{}, err
	}
	return it, nil
}

func (m *Market) validateListing(it *item.Item) error {
	if it == nil {
		return ValidationError{Field: "item", Message: "is required"}
	}
	if it.ID <= 0 {
		return ValidationError{Field: "id", Message: "must be positive"}
	}
	if it.Cost.Currency == "" {
		it.Cost.Currency = m.currency
	}
	if it.Cost.Currency != m.currency {
		return ValidationError{Field: "cost", Message: fmt.Sprintf("must be in %s", m.currency)}
	}
	if it.Cost.IsNegative() {
		return ValidationError{Field: "cost", Message: "must not be negative"}
	}
	if it.Stock < 0 {
		return ValidationError{Field: "stock", Message: "must not be negative"}
	}
	return nil
}

// GetItem returns the listing for itemID. An id that was never listed
// yields the zero Item (no stock, zero cost), not an error.
func (m *Market) GetItem(ctx context.Context, itemID int64) (item.Item, error) {
	it, err := m.store.GetItem(ctx, itemID)
	if errors.Is(err, ErrItemNotFound) {
		return item.Item{Cost: types.Zero(m.currency)}, nil
	}
	if err != nil {
		return item.Item{}, err
	}
	return *it, nil
}

// ListItems returns listings ordered by id. A negative limit or offset
// is treated as unset.
func (m *Market) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	opts.Limit = max(opts.Limit, 0)
	opts.Offset = max(opts.Offset, 0)
	return m.store.ListItems(ctx, opts)
}

// ──────────────────────────────────────────────────
// Purchase Flow
// ──────────────────────────────────────────────────

// Buy sells one unit of itemID to buyer for tendered. Tendering more than
// the cost is accepted and the whole amount goes to the treasury.
func (m *Market) Buy(ctx context.Context, buyer account.Account, itemID int64, tendered types.Money) (*order.Order, error) {
	o, err := m.settle(ctx, buyer, itemID, tendered)
	if err != nil {
		if IsRejection(err) {
			m.logger.Info("purchase rejected",
				"buyer", buyer,
				"item_id", itemID,
				"tendered", tendered.String(),
				"reason", err,
			)
			m.plugins.EmitPurchaseRejected(ctx, buyer, itemID, err)
		}
		return nil, err
	}

	m.logger.Info("purchase settled",
		"buyer", o.Buyer,
		"item_id", itemID,
		"seq", o.Seq,
		"tendered", o.Tendered.String(),
	)

	m.plugins.EmitPurchaseSettled(ctx, o.Buyer, itemID, o)
	return o, nil
}

func (m *Market) settle(ctx context.Context, buyer account.Account, itemID int64, tendered types.Money) (*order.Order, error) {
	buyer, err := account.Parse(buyer.String())
	if err != nil {
		return nil, ValidationError{Field: "buyer", Message: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	it, err := m.store.GetItem(ctx, itemID)
	if errors.Is(err, ErrItemNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
	}
	if err != nil {
		return nil, err
	}
	if !it.InStock() {
		return nil, fmt.Errorf("%w: item %d", ErrInsufficientStock, itemID)
	}
	if !tendered.SameCurrency(it.Cost) {
		return nil, fmt.Errorf("%w: item %d costs %s, tendered %s", ErrCurrencyMismatch, itemID, it.Cost.Currency, tendered.Currency)
	}
	if tendered.LessThan(it.Cost) {
		return nil, &PaymentError{ItemID: itemID, Tendered: tendered, Cost: it.Cost}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := &order.Order{
		ID:       id.NewOrderID(),
		Buyer:    buyer,
		Time:     m.now(),
		Item:     it.Snapshot(),
		Tendered: tendered,
	}
	if err := m.store.SettlePurchase(ctx, o); err != nil {
		switch {
		case errors.Is(err, ErrItemNotFound):
			return nil, fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
		case errors.Is(err, ErrInsufficientStock):
			return nil, fmt.Errorf("%w: item %d", ErrInsufficientStock, itemID)
		}
		return nil, err
	}
	return o, nil
}

// ──────────────────────────────────────────────────
// Order Ledger
// ──────────────────────────────────────────────────

// GetOrder returns the buyer's index-th order, counting from 1.
func (m *Market) GetOrder(ctx context.Context, buyer account.Account, index int64) (*order.Order, error) {
	buyer = normalize(buyer)
	count, err := m.store.CountOrders(ctx, buyer)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > count {
		return nil, &IndexError{Buyer: buyer, Index: index, Count: count}
	}
	return m.store.GetOrder(ctx, buyer, index)
}

// GetOrderCount returns how many purchases buyer has settled.
func (m *Market) GetOrderCount(ctx context.Context, buyer account.Account) (int64, error) {
	return m.store.CountOrders(ctx, normalize(buyer))
}

// ListOrders returns the buyer's orders in purchase order.
func (m *Market) ListOrders(ctx context.Context, buyer account.Account) ([]*order.Order, error) {
	return m.store.ListOrders(ctx, normalize(buyer))
}

// normalize maps a blank identity to itself; such a buyer simply has no orders.
func normalize(a account.Account) account.Account {
	n, err := account.Parse(a.String())
	if err != nil {
		return ""
	}
	return n
}

// ──────────────────────────────────────────────────
// Treasury
// ──────────────────────────────────────────────────

// TreasuryBalance returns the value collected since the last withdrawal.
func (m *Market) TreasuryBalance(ctx context.Context) (types.Money, error) {
	return m.store.TreasuryBalance(ctx, m.currency)
}

// Withdrawals returns every recorded payout to the owner.
func (m *Market) Withdrawals(ctx context.Context) ([]*treasury.Withdrawal, error) {
	return m.store.ListWithdrawals(ctx)
}

// Withdraw pays the whole treasury to the owner. The treasury is zeroed
// only after the payout confirms; a failed payout leaves it untouched.
// An empty treasury returns a zero-amount withdrawal without paying out.
func (m *Market) Withdraw(ctx context.Context, caller account.Account) (*treasury.Withdrawal, error) {
	if err := m.authorize(caller, "withdraw"); err != nil {
		return nil, err
	}

	w, err := m.withdraw(ctx)
	if err != nil {
		var te *TransferError
		if errors.As(err, &te) {
			m.logger.Error("treasury withdrawal failed",
				"to", te.To,
				"amount", te.Amount.String(),
				"error", te.Err,
			)
			m.plugins.EmitWithdrawalFailed(ctx, te.To, te.Amount, te.Err)
		}
		return nil, err
	}
	if w.Amount.IsZero() {
		return w, nil
	}

	m.logger.Info("treasury withdrawn",
		"withdrawal_id", w.ID.String(),
		"to", w.To,
		"amount", w.Amount.String(),
	)

	m.plugins.EmitTreasuryWithdrawn(ctx, w)
	return w, nil
}

func (m *Market) withdraw(ctx context.Context) (*treasury.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, err := m.store.TreasuryBalance(ctx, m.currency)
	if err != nil {
		return nil, err
	}

	w := &treasury.Withdrawal{
		ID:     id.NewWithdrawalID(),
		To:     m.owner,
		Amount: balance,
		Time:   m.now(),
	}
	if balance.IsZero() {
		return w, nil
	}
	if m.payout == nil {
		return nil, ErrPayoutNotDefined
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := m.payout.Transfer(ctx, m.owner, balance)
	if err != nil {
		return nil, &TransferError{To: m.owner, Amount: balance, Err: err}
	}
	w.Reference = ref

	// The payout has moved the funds; a late cancellation must not lose the record.
	if err := m.store.DrainTreasury(context.WithoutCancel(ctx), w); err != nil {
		m.logger.Error("treasury drain failed after payout",
			"withdrawal_id", w.ID.String(),
			"reference", ref,
			"amount", balance.String(),
			"error", err,
		)
		return nil, fmt.Errorf("market: record withdrawal %s: %w", w.ID, err)
	}
	return w, nil
}
