// Package audithook bridges Market lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnItemListed        = (*Extension)(nil)
	_ plugin.OnPurchaseSettled   = (*Extension)(nil)
	_ plugin.OnPurchaseRejected  = (*Extension)(nil)
	_ plugin.OnTreasuryWithdrawn = (*Extension)(nil)
	_ plugin.OnWithdrawalFailed  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Market lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnItemListed implements plugin.OnItemListed.
func (e *Extension) OnItemListed(ctx context.Context, it item.Item) error {
	return e.record(ctx, ActionItemListed, SeverityInfo, OutcomeSuccess,
		ResourceItem, itemID(it.ID), CategoryCatalog, "", nil,
		"name", it.Name,
		"category", it.Category,
		"cost", it.Cost.String(),
		"stock", it.Stock,
	)
}

// OnPurchaseSettled implements plugin.OnPurchaseSettled.
func (e *Extension) OnPurchaseSettled(ctx context.Context, buyer account.Account, id int64, o *order.Order) error {
	var orderID string
	kv := []any{"item_id", id}
	if o != nil {
		orderID = o.ID.String()
		kv = append(kv,
			"seq", o.Seq,
			"tendered", o.Tendered.String(),
			"cost", o.Item.Cost.String(),
		)
	}
	return e.record(ctx, ActionPurchaseSettled, SeverityInfo, OutcomeSuccess,
		ResourceOrder, orderID, CategorySales, buyer, nil, kv...)
}

// OnPurchaseRejected implements plugin.OnPurchaseRejected.
func (e *Extension) OnPurchaseRejected(ctx context.Context, buyer account.Account, id int64, reason error) error {
	return e.record(ctx, ActionPurchaseRejected, SeverityWarning, OutcomeFailure,
		ResourceItem, itemID(id), CategorySales, buyer, reason,
		"item_id", id,
	)
}

// OnTreasuryWithdrawn implements plugin.OnTreasuryWithdrawn.
func (e *Extension) OnTreasuryWithdrawn(ctx context.Context, w *treasury.Withdrawal) error {
	return e.record(ctx, ActionTreasuryWithdrawn, SeverityInfo, OutcomeSuccess,
		ResourceWithdrawal, w.ID.String(), CategoryTreasury, w.To, nil,
		"amount", w.Amount.String(),
		"reference", w.Reference,
	)
}

// OnWithdrawalFailed implements plugin.OnWithdrawalFailed.
func (e *Extension) OnWithdrawalFailed(ctx context.Context, to account.Account, amount types.Money, err error) error {
	return e.record(ctx, ActionWithdrawalFailed, SeverityCritical, OutcomeFailure,
		ResourceWithdrawal, "", CategoryTreasury, to, err,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func itemID(id int64) string { return strconv.FormatInt(id, 10) }

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	actor account.Account,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      actor.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
