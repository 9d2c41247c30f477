package extension

import "time"

// Config holds the Tarif extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tarif" or "tarif" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for billing routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Currency is the ISO currency code new invoices and prices default to
	// (default: "eur").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// InvoiceTTL is how long a pending invoice stays payable before the
	// sweep worker marks it lapsed (default: 24h).
	InvoiceTTL time.Duration `json:"invoice_ttl" mapstructure:"invoice_ttl" yaml:"invoice_ttl"`

	// RefundWindow is how long after capture a payment remains refundable
	// (default: 336h, i.e. 14 days).
	RefundWindow time.Duration `json:"refund_window" mapstructure:"refund_window" yaml:"refund_window"`

	// SweepInterval is how frequently the background sweep expires
	// subscriptions and lapses overdue invoices (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:      "/billing",
		Currency:      "eur",
		InvoiceTTL:    24 * time.Hour,
		RefundWindow:  14 * 24 * time.Hour,
		SweepInterval: time.Minute,
	}
}
