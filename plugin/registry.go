package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// DefaultTimeout bounds how long a single hook may run.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins and dispatches hooks to them.
// Hook lists are cached per interface so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit              []OnInit
	onShutdown          []OnShutdown
	onItemListed        []OnItemListed
	onPurchaseSettled   []OnPurchaseSettled
	onPurchaseRejected  []OnPurchaseRejected
	onTreasuryWithdrawn []OnTreasuryWithdrawn
	onWithdrawalFailed  []OnWithdrawalFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)
	r.reindex()

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooksOf(p),
	)

	return nil
}

// Unregister detaches the named plugin. It reports whether one was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		if p.Name() == name {
			r.plugins = append(r.plugins[:i:i], r.plugins[i+1:]...)
			r.reindex()
			r.logger.Info("plugin unregistered", "name", name)
			return true
		}
	}
	return false
}

// reindex rebuilds the hook caches. Caller holds r.mu.
func (r *Registry) reindex() {
	r.onInit = collect[OnInit](r.plugins)
	r.onShutdown = collect[OnShutdown](r.plugins)
	r.onItemListed = collect[OnItemListed](r.plugins)
	r.onPurchaseSettled = collect[OnPurchaseSettled](r.plugins)
	r.onPurchaseRejected = collect[OnPurchaseRejected](r.plugins)
	r.onTreasuryWithdrawn = collect[OnTreasuryWithdrawn](r.plugins)
	r.onWithdrawalFailed = collect[OnWithdrawalFailed](r.plugins)
}

func collect[T Plugin](plugins []Plugin) []T {
	var out []T
	for _, p := range plugins {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func hooksOf(p Plugin) []string {
	var hooks []string
	check := func(ok bool, name string) {
		if ok {
			hooks = append(hooks, name)
		}
	}
	_, ok := p.(OnInit)
	check(ok, "OnInit")
	_, ok = p.(OnShutdown)
	check(ok, "OnShutdown")
	_, ok = p.(OnItemListed)
	check(ok, "OnItemListed")
	_, ok = p.(OnPurchaseSettled)
	check(ok, "OnPurchaseSettled")
	_, ok = p.(OnPurchaseRejected)
	check(ok, "OnPurchaseRejected")
	_, ok = p.(OnTreasuryWithdrawn)
	check(ok, "OnTreasuryWithdrawn")
	_, ok = p.(OnWithdrawalFailed)
	check(ok, "OnWithdrawalFailed")
	return hooks
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, m any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, m)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitItemListed emits an item listed event.
func (r *Registry) EmitItemListed(ctx context.Context, it item.Item) {
	r.mu.RLock()
	plugins := r.onItemListed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnItemListed", func() error {
			return p.OnItemListed(ctx, it)
		})
	}
}

// EmitPurchaseSettled emits a purchase settled event.
func (r *Registry) EmitPurchaseSettled(ctx context.Context, buyer account.Account, itemID int64, o *order.Order) {
	r.mu.RLock()
	plugins := r.onPurchaseSettled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPurchaseSettled", func() error {
			return p.OnPurchaseSettled(ctx, buyer, itemID, o)
		})
	}
}

// EmitPurchaseRejected emits a purchase rejected event.
func (r *Registry) EmitPurchaseRejected(ctx context.Context, buyer account.Account, itemID int64, reason error) {
	r.mu.RLock()
	plugins := r.onPurchaseRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPurchaseRejected", func() error {
			return p.OnPurchaseRejected(ctx, buyer, itemID, reason)
		})
	}
}

// EmitTreasuryWithdrawn emits a treasury withdrawn event.
func (r *Registry) EmitTreasuryWithdrawn(ctx context.Context, w *treasury.Withdrawal) {
	r.mu.RLock()
	plugins := r.onTreasuryWithdrawn
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnTreasuryWithdrawn", func() error {
			return p.OnTreasuryWithdrawn(ctx, w)
		})
	}
}

// EmitWithdrawalFailed emits a withdrawal failed event.
func (r *Registry) EmitWithdrawalFailed(ctx context.Context, to account.Account, amount types.Money, cause error) {
	r.mu.RLock()
	plugins := r.onWithdrawalFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnWithdrawalFailed", func() error {
			return p.OnWithdrawalFailed(ctx, to, amount, cause)
		})
	}
}

// dispatch runs one hook and logs its failure. Hook errors never reach
// the caller of the market operation that triggered them.
func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout so one slow
// listener cannot hold a market operation open indefinitely.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
