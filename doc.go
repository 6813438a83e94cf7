// Package market provides a single-owner marketplace ledger for Go applications.
//
// Market is designed as a library, not a service. Import it directly and
// back it with any store.Store implementation. It provides:
//
//   - An item registry keyed by caller-chosen ids, written only by the owner
//   - Atomic purchases that check stock and payment, then record an order
//   - A per-buyer order ledger with stable 1-based indices
//   - A treasury that collects every tendered amount until the owner withdraws
//   - Plugin hooks for audit, metrics and event relays
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/market"
//	    "github.com/xraph/market/store/postgres"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	m, err := market.New(account.MustParse("0xowner"), store,
//	    market.WithCurrency("eth"),
//	    market.WithPayout(bank),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Stop()
//
// # Core Concepts
//
// The owner lists items. Listing an id again replaces the whole record:
//
//	err := m.List(ctx, owner, &item.Item{
//	    ID:    1,
//	    Name:  "Shoes",
//	    Cost:  types.ETH(1_000_000_000),
//	    Stock: 10,
//	})
//
// Anyone can buy one unit at a time. Overpayment is kept by the treasury:
//
//	o, err := m.Buy(ctx, buyer, 1, types.ETH(1_000_000_000))
//
// Orders are read back by buyer and 1-based index:
//
//	count, _ := m.GetOrderCount(ctx, buyer)
//	first, _ := m.GetOrder(ctx, buyer, 1)
//
// The owner drains the treasury through the configured treasury.Payout:
//
//	w, err := m.Withdraw(ctx, owner)
//
// # Consistency
//
// List, Buy and Withdraw are serialized. A purchase either settles
// completely (stock decremented, order appended, treasury credited) or
// leaves no trace. Withdraw zeroes the treasury only after the payout
// confirms. Plugin hooks run after the state change and their failures
// are logged, never returned.
//
// All monetary values use integer minor units. Ether is counted in gwei.
//
// # TypeID
//
// Orders, withdrawals and relayed events use TypeID identifiers:
//
//	ord_01h2xcejqtf2nbrexx3vqjhp41  // Order ID
//	wdr_01h455vb4pex5vsknk084sn02q  // Withdrawal ID
//	evt_01h455vb4pex5vsknk084sn02q  // Event ID
package market
