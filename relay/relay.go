// Package relay forwards market notifications to external message buses.
//
// A Relay is a plugin that turns each hook into an Event envelope and hands
// it to a Publisher. Redis pub/sub and AMQP topic exchanges are provided.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Event topics. Routing keys on AMQP, channel suffixes on Redis.
const (
	TopicItemListed        = "market.item.listed"
	TopicPurchaseSettled   = "market.purchase.settled"
	TopicPurchaseRejected  = "market.purchase.rejected"
	TopicTreasuryWithdrawn = "market.treasury.withdrawn"
	TopicWithdrawalFailed  = "market.treasury.withdrawal_failed"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Relay)(nil)
	_ plugin.OnItemListed        = (*Relay)(nil)
	_ plugin.OnPurchaseSettled   = (*Relay)(nil)
	_ plugin.OnPurchaseRejected  = (*Relay)(nil)
	_ plugin.OnTreasuryWithdrawn = (*Relay)(nil)
	_ plugin.OnWithdrawalFailed  = (*Relay)(nil)
)

// Event is the envelope published for every notification.
type Event struct {
	ID         id.EventID      `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher delivers an encoded event to a bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Close() error
}

// Relay is a plugin that publishes market notifications.
type Relay struct {
	name   string
	pub    Publisher
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger used to report publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithName overrides the plugin name, which must be unique per market.
func WithName(name string) Option {
	return func(r *Relay) { r.name = name }
}

// New creates a Relay on top of pub.
func New(pub Publisher, opts ...Option) *Relay {
	r := &Relay{
		name:   "relay",
		pub:    pub,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements plugin.Plugin.
func (r *Relay) Name() string { return r.name }

// Close releases the underlying publisher.
func (r *Relay) Close() error { return r.pub.Close() }

// OnShutdown closes the publisher when the market stops.
func (r *Relay) OnShutdown(context.Context) error { return r.Close() }

type itemListed struct {
	Item item.Item `json:"item"`
}

type purchaseSettled struct {
	Buyer  account.Account `json:"buyer"`
	ItemID int64           `json:"item_id"`
	Order  *order.Order    `json:"order,omitempty"`
}

type purchaseRejected struct {
	Buyer  account.Account `json:"buyer"`
	ItemID int64           `json:"item_id"`
	Reason string          `json:"reason"`
}

type withdrawalFailed struct {
	To     account.Account `json:"to"`
	Amount types.Money     `json:"amount"`
	Reason string          `json:"reason"`
}

// OnItemListed implements plugin.OnItemListed.
func (r *Relay) OnItemListed(ctx context.Context, it item.Item) error {
	return r.publish(ctx, TopicItemListed, itemListed{Item: it})
}

// OnPurchaseSettled implements plugin.OnPurchaseSettled.
func (r *Relay) OnPurchaseSettled(ctx context.Context, buyer account.Account, itemID int64, o *order.Order) error {
	return r.publish(ctx, TopicPurchaseSettled, purchaseSettled{Buyer: buyer, ItemID: itemID, Order: o})
}

// OnPurchaseRejected implements plugin.OnPurchaseRejected.
func (r *Relay) OnPurchaseRejected(ctx context.Context, buyer account.Account, itemID int64, reason error) error {
	return r.publish(ctx, TopicPurchaseRejected, purchaseRejected{Buyer: buyer, ItemID: itemID, Reason: errString(reason)})
}

// OnTreasuryWithdrawn implements plugin.OnTreasuryWithdrawn.
func (r *Relay) OnTreasuryWithdrawn(ctx context.Context, w *treasury.Withdrawal) error {
	return r.publish(ctx, TopicTreasuryWithdrawn, w)
}

// OnWithdrawalFailed implements plugin.OnWithdrawalFailed.
func (r *Relay) OnWithdrawalFailed(ctx context.Context, to account.Account, amount types.Money, err error) error {
	return r.publish(ctx, TopicWithdrawalFailed, withdrawalFailed{To: to, Amount: amount, Reason: errString(err)})
}

func (r *Relay) publish(ctx context.Context, topic string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", topic, err)
	}
	body, err := json.Marshal(Event{
		ID:         id.NewEventID(),
		Topic:      topic,
		OccurredAt: r.clock().UTC(),
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := r.pub.Publish(ctx, topic, body); err != nil {
		r.logger.Warn("relay: publish failed", "plugin", r.name, "topic", topic, "error", err)
		return fmt.Errorf("relay: publish %s: %w", topic, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
