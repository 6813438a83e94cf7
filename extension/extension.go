// Package extension provides the Forge extension adapter for Market.
//
// It implements the forge.Extension interface to integrate a Market
// into a Forge application with DI registration and lifecycle management.
// The engine and, unless disabled, its HTTP handler are provided to the
// container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.market" or "market" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/api"
	"github.com/xraph/market/store"
	"github.com/xraph/market/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "market"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Single-owner marketplace ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Market as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *market.Market
	api        *api.Handler
	handler    http.Handler
	store      store.Store
	marketOpts []market.Option
}

// New creates a new Market Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Market instance.
// This is nil until Register is called.
func (e *Extension) Engine() *market.Market { return e.engine }

// Handler returns the HTTP surface mounted under the configured base path,
// or nil when routes are disabled.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the market engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*market.Market, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	if e.api == nil {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.api, nil
	})
}

// build constructs the engine and handler from the resolved config.
func (e *Extension) build() error {
	owner, err := account.Parse(e.config.Owner)
	if err != nil {
		return fmt.Errorf("market: extension owner: %w", err)
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	eng, err := market.New(owner, e.store, e.buildMarketOpts()...)
	if err != nil {
		return err
	}
	e.engine = eng

	if !e.config.DisableRoutes {
		base := "/" + strings.Trim(e.config.BasePath, "/")
		e.api = api.New(eng)
		e.handler = http.StripPrefix(strings.TrimSuffix(base, "/"), e.api)
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("market: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("market: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildMarketOpts constructs market.Option values from the resolved config.
func (e *Extension) buildMarketOpts() []market.Option {
	opts := make([]market.Option, 0, len(e.marketOpts)+2)

	if e.config.Currency != "" {
		opts = append(opts, market.WithCurrency(e.config.Currency))
	}
	if e.config.HookTimeout > 0 {
		opts = append(opts, market.WithHookTimeout(e.config.HookTimeout))
	}

	// Append any pass-through market options.
	opts = append(opts, e.marketOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("market: configuration is required but not found in config files; " +
				"ensure 'extensions.market' or 'market' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("market: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("owner", e.config.Owner),
		forge.F("currency", e.config.Currency),
		forge.F("hook_timeout", e.config.HookTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.market" first (namespaced pattern).
	if cm.IsSet("extensions.market") {
		if err := cm.Bind("extensions.market", &cfg); err == nil {
			e.Logger().Debug("market: loaded config from file",
				forge.F("key", "extensions.market"),
			)
			return cfg, true
		}
		e.Logger().Warn("market: failed to bind extensions.market config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "market" key.
	if cm.IsSet("market") {
		if err := cm.Bind("market", &cfg); err == nil {
			e.Logger().Debug("market: loaded config from file",
				forge.F("key", "market"),
			)
			return cfg, true
		}
		e.Logger().Warn("market: failed to bind market config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Owner == "" {
		yamlConfig.Owner = programmaticConfig.Owner
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
