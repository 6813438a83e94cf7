package extension

import (
	"time"

	"github.com/xraph/market"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
)

// Option configures the Market Forge extension.
type Option func(*Extension)

// WithStore sets the store for the market engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithMarketOption passes a market.Option through to the underlying engine.
func WithMarketOption(opt market.Option) Option {
	return func(e *Extension) {
		e.marketOpts = append(e.marketOpts, opt)
	}
}

// WithPlugin registers a market plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.marketOpts = append(e.marketOpts, market.WithPlugin(p))
	}
}

// WithPayout sets the rail that receives treasury withdrawals.
func WithPayout(p treasury.Payout) Option {
	return func(e *Extension) {
		e.marketOpts = append(e.marketOpts, market.WithPayout(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithOwner sets the market owner.
func WithOwner(owner string) Option {
	return func(e *Extension) { e.config.Owner = owner }
}

// WithCurrency sets the market currency.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithDisableRoutes prevents HTTP handler registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for market routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithHookTimeout bounds each plugin notification.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
