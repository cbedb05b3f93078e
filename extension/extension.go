// Package extension provides the Forge extension adapter for Subledger.
//
// It implements the forge.Extension interface to integrate the billing
// engine into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions or
// via YAML configuration files under "extensions.subledger" or "subledger"
// keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/subscription"

	"github.com/xraph/subledger/store"
	"github.com/xraph/subledger/store/memory"
	"github.com/xraph/subledger/store/mongo"
	"github.com/xraph/subledger/store/postgres"
	"github.com/xraph/subledger/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "subledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription billing ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Subledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *subledger.Ledger
	store      store.Store
	db         *grove.DB
	engineOpts []subledger.Option
}

// New creates a new Subledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *subledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the billing engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	// Build engine options from resolved config.
	opts := e.buildEngineOpts()

	eng := subledger.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*subledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("subledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
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
		return errors.New("subledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore constructs the store backend named by the config driver.
func (e *Extension) buildStore() (store.Store, error) {
	switch e.config.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverPostgres:
		if e.db == nil {
			return nil, errors.New("subledger: postgres driver needs a grove.DB (use WithDatabase)")
		}
		return postgres.New(e.db), nil
	case DriverSQLite:
		if e.db == nil {
			return nil, errors.New("subledger: sqlite driver needs a grove.DB (use WithDatabase)")
		}
		return sqlite.New(e.db), nil
	case DriverMongo:
		if e.db == nil {
			return nil, errors.New("subledger: mongo driver needs a grove.DB (use WithDatabase)")
		}
		return mongo.New(e.db), nil
	default:
		return nil, fmt.Errorf("subledger: unknown store driver %q", e.config.Driver)
	}
}

// buildEngineOpts constructs subledger.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []subledger.Option {
	opts := make([]subledger.Option, 0, len(e.engineOpts)+6)

	if e.config.BackendTimeout > 0 {
		opts = append(opts, subledger.WithBackendTimeout(e.config.BackendTimeout))
	}
	if e.config.PlanCacheTTL > 0 {
		opts = append(opts, subledger.WithPlanCacheTTL(e.config.PlanCacheTTL))
	}
	if e.config.ReconcileInterval > 0 && e.config.ReconcileStaleAfter > 0 {
		opts = append(opts, subledger.WithReconcileConfig(e.config.ReconcileInterval, e.config.ReconcileStaleAfter))
	}
	if e.config.RetryMaxAttempts > 0 || e.config.RetryMaxAge > 0 {
		opts = append(opts, subledger.WithRetryPolicy(subscription.RetryPolicy{
			MaxAttempts: e.config.RetryMaxAttempts,
			MaxAge:      e.config.RetryMaxAge,
		}))
	}
	if e.config.StrictCoupons {
		opts = append(opts, subledger.WithStrictCoupons(true))
	}
	if e.config.DisableMigrate {
		opts = append(opts, subledger.WithAutoMigrate(false))
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
			return errors.New("subledger: configuration is required but not found in config files; " +
				"ensure 'extensions.subledger' or 'subledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("subledger: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("backend_timeout", e.config.BackendTimeout),
		forge.F("plan_cache_ttl", e.config.PlanCacheTTL),
		forge.F("reconcile_interval", e.config.ReconcileInterval),
		forge.F("strict_coupons", e.config.StrictCoupons),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.subledger" first (namespaced pattern).
	if cm.IsSet("extensions.subledger") {
		if err := cm.Bind("extensions.subledger", &cfg); err == nil {
			e.Logger().Debug("subledger: loaded config from file",
				forge.F("key", "extensions.subledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("subledger: failed to bind extensions.subledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "subledger" key.
	if cm.IsSet("subledger") {
		if err := cm.Bind("subledger", &cfg); err == nil {
			e.Logger().Debug("subledger: loaded config from file",
				forge.F("key", "subledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("subledger: failed to bind subledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = defaults.BackendTimeout
	}
	if cfg.PlanCacheTTL == 0 {
		cfg.PlanCacheTTL = defaults.PlanCacheTTL
	}
	if cfg.RetryMaxAttempts == 0 && cfg.RetryMaxAge == 0 {
		cfg.RetryMaxAttempts = defaults.RetryMaxAttempts
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.ReconcileStaleAfter == 0 {
		cfg.ReconcileStaleAfter = defaults.ReconcileStaleAfter
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.StrictCoupons {
		yamlConfig.StrictCoupons = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Driver == "" && programmaticConfig.Driver != "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.BackendTimeout == 0 && programmaticConfig.BackendTimeout != 0 {
		yamlConfig.BackendTimeout = programmaticConfig.BackendTimeout
	}
	if yamlConfig.PlanCacheTTL == 0 && programmaticConfig.PlanCacheTTL != 0 {
		yamlConfig.PlanCacheTTL = programmaticConfig.PlanCacheTTL
	}
	if yamlConfig.RetryMaxAttempts == 0 && programmaticConfig.RetryMaxAttempts != 0 {
		yamlConfig.RetryMaxAttempts = programmaticConfig.RetryMaxAttempts
	}
	if yamlConfig.RetryMaxAge == 0 && programmaticConfig.RetryMaxAge != 0 {
		yamlConfig.RetryMaxAge = programmaticConfig.RetryMaxAge
	}
	if yamlConfig.ReconcileInterval == 0 && programmaticConfig.ReconcileInterval != 0 {
		yamlConfig.ReconcileInterval = programmaticConfig.ReconcileInterval
	}
	if yamlConfig.ReconcileStaleAfter == 0 && programmaticConfig.ReconcileStaleAfter != 0 {
		yamlConfig.ReconcileStaleAfter = programmaticConfig.ReconcileStaleAfter
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
