// Package observability provides a metrics extension for Market that records
// lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnItemListed        = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseSettled   = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseRejected  = (*MetricsExtension)(nil)
	_ plugin.OnTreasuryWithdrawn = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalFailed  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Market plugin to automatically track sales metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Item registry metrics
	ItemListed Counter

	// Purchase metrics
	PurchaseSettled  Counter
	PurchaseTendered Histogram
	PurchaseOverpaid Counter

	// Rejection metrics, by reason
	RejectedUnknownItem Counter
	RejectedOutOfStock  Counter
	RejectedUnderpaid   Counter
	RejectedCurrency    Counter
	RejectedOther       Counter

	// Treasury metrics
	TreasuryWithdrawn Counter
	WithdrawalAmount  Histogram
	WithdrawalFailed  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ItemListed: factory.Counter("market.item.listed"),

		PurchaseSettled:  factory.Counter("market.purchase.settled"),
		PurchaseTendered: factory.Histogram("market.purchase.tendered_minor_units"),
		PurchaseOverpaid: factory.Counter("market.purchase.overpaid"),

		RejectedUnknownItem: factory.Counter("market.purchase.rejected.unknown_item"),
		RejectedOutOfStock:  factory.Counter("market.purchase.rejected.out_of_stock"),
		RejectedUnderpaid:   factory.Counter("market.purchase.rejected.underpaid"),
		RejectedCurrency:    factory.Counter("market.purchase.rejected.currency"),
		RejectedOther:       factory.Counter("market.purchase.rejected.other"),

		TreasuryWithdrawn: factory.Counter("market.treasury.withdrawn"),
		WithdrawalAmount:  factory.Histogram("market.treasury.withdrawal_minor_units"),
		WithdrawalFailed:  factory.Counter("market.treasury.withdrawal_failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Item registry hooks
// ──────────────────────────────────────────────────

// OnItemListed implements plugin.OnItemListed.
func (m *MetricsExtension) OnItemListed(_ context.Context, _ item.Item) error {
	m.ItemListed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseSettled implements plugin.OnPurchaseSettled.
func (m *MetricsExtension) OnPurchaseSettled(_ context.Context, _ account.Account, _ int64, o *order.Order) error {
	m.PurchaseSettled.Inc()
	if o == nil {
		return nil
	}
	m.PurchaseTendered.Observe(float64(o.Tendered.Amount))
	if o.Item.Cost.SameCurrency(o.Tendered) && o.Item.Cost.LessThan(o.Tendered) {
		m.PurchaseOverpaid.Inc()
	}
	return nil
}

// OnPurchaseRejected implements plugin.OnPurchaseRejected.
func (m *MetricsExtension) OnPurchaseRejected(_ context.Context, _ account.Account, _ int64, reason error) error {
	switch {
	case errors.Is(reason, market.ErrUnknownItem):
		m.RejectedUnknownItem.Inc()
	case errors.Is(reason, market.ErrInsufficientStock):
		m.RejectedOutOfStock.Inc()
	case errors.Is(reason, market.ErrInsufficientPayment):
		m.RejectedUnderpaid.Inc()
	case errors.Is(reason, market.ErrCurrencyMismatch):
		m.RejectedCurrency.Inc()
	default:
		m.RejectedOther.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Treasury hooks
// ──────────────────────────────────────────────────

// OnTreasuryWithdrawn implements plugin.OnTreasuryWithdrawn.
func (m *MetricsExtension) OnTreasuryWithdrawn(_ context.Context, w *treasury.Withdrawal) error {
	m.TreasuryWithdrawn.Inc()
	if w != nil {
		m.WithdrawalAmount.Observe(float64(w.Amount.Amount))
	}
	return nil
}

// OnWithdrawalFailed implements plugin.OnWithdrawalFailed.
func (m *MetricsExtension) OnWithdrawalFailed(_ context.Context, _ account.Account, _ types.Money, _ error) error {
	m.WithdrawalFailed.Inc()
	return nil
}
