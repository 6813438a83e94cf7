package extension

import "time"

// Config holds the Market extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.market" or "market" keys).
type Config struct {
	// Owner is the account allowed to list items and withdraw the treasury.
	Owner string `json:"owner" mapstructure:"owner" yaml:"owner"`

	// Currency is the market currency (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// DisableRoutes prevents the HTTP handler from being provided.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for market routes (default: "/market").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// HookTimeout bounds each plugin notification (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Currency:    "usd",
		BasePath:    "/market",
		HookTimeout: 5 * time.Second,
	}
}
