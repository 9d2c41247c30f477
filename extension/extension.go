// Package extension provides the Forge extension adapter for Tarif.
//
// It implements the forge.Extension interface to integrate Tarif
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tarif" or "tarif" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	tarif "github.com/xraph/tarif"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tarif"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Embeddable subscription billing engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tarif as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tarif.Engine
	store      store.Store
	engineOpts []tarif.Option
}

// New creates a new Tarif Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Tarif engine.
// This is nil until Register is called.
func (e *Extension) Engine() *tarif.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the billing engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	// Build engine options from resolved config.
	opts := e.buildEngineOpts()

	eng := tarif.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*tarif.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tarif: extension not initialized")
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
		return errors.New("tarif: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs tarif.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []tarif.Option {
	opts := make([]tarif.Option, 0, len(e.engineOpts)+4)

	if e.config.Currency != "" {
		opts = append(opts, tarif.WithCurrency(e.config.Currency))
	}
	if e.config.InvoiceTTL > 0 {
		opts = append(opts, tarif.WithInvoiceTTL(e.config.InvoiceTTL))
	}
	if e.config.RefundWindow > 0 {
		opts = append(opts, tarif.WithRefundWindow(e.config.RefundWindow))
	}
	if e.config.SweepInterval > 0 {
		opts = append(opts, tarif.WithSweepInterval(e.config.SweepInterval))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tarif: configuration is required but not found in config files; " +
				"ensure 'extensions.tarif' or 'tarif' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tarif: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("currency", e.config.Currency),
		forge.F("invoice_ttl", e.config.InvoiceTTL),
		forge.F("refund_window", e.config.RefundWindow),
		forge.F("sweep_interval", e.config.SweepInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.tarif" first (namespaced pattern).
	if cm.IsSet("extensions.tarif") {
		if err := cm.Bind("extensions.tarif", &cfg); err == nil {
			e.Logger().Debug("tarif: loaded config from file",
				forge.F("key", "extensions.tarif"),
			)
			return cfg, true
		}
		e.Logger().Warn("tarif: failed to bind extensions.tarif config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "tarif" key.
	if cm.IsSet("tarif") {
		if err := cm.Bind("tarif", &cfg); err == nil {
			e.Logger().Debug("tarif: loaded config from file",
				forge.F("key", "tarif"),
			)
			return cfg, true
		}
		e.Logger().Warn("tarif: failed to bind tarif config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.InvoiceTTL == 0 {
		cfg.InvoiceTTL = defaults.InvoiceTTL
	}
	if cfg.RefundWindow == 0 {
		cfg.RefundWindow = defaults.RefundWindow
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
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
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Currency == "" && programmaticConfig.Currency != "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.InvoiceTTL == 0 && programmaticConfig.InvoiceTTL != 0 {
		yamlConfig.InvoiceTTL = programmaticConfig.InvoiceTTL
	}
	if yamlConfig.RefundWindow == 0 && programmaticConfig.RefundWindow != 0 {
		yamlConfig.RefundWindow = programmaticConfig.RefundWindow
	}
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
