package extension

import (
	"time"

	"github.com/xraph/grove"

	subledger "github.com/xraph/subledger"
	"github.com/xraph/subledger/payment"
	"github.com/xraph/subledger/plugin"
	"github.com/xraph/subledger/store"
)

// Option configures the Subledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine, bypassing the
// driver-based construction.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithDatabase supplies the grove.DB used by the postgres, sqlite, and
// mongo store drivers.
func WithDatabase(db *grove.DB) Option {
	return func(e *Extension) {
		e.db = db
	}
}

// WithDriver selects the store backend (memory, postgres, sqlite, mongo).
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithEngineOption passes a subledger.Option through to the underlying engine.
func WithEngineOption(opt subledger.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, subledger.WithPlugin(p))
	}
}

// WithBackend sets the payment backend charges settle against.
func WithBackend(b payment.Backend) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, subledger.WithBackend(b))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithBackendTimeout bounds each payment backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.BackendTimeout = d }
}

// WithPlanCacheTTL sets the plan cache duration.
func WithPlanCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.PlanCacheTTL = d }
}

// WithRetryPolicy sets the renewal retry bounds.
func WithRetryPolicy(maxAttempts int, maxAge time.Duration) Option {
	return func(e *Extension) {
		e.config.RetryMaxAttempts = maxAttempts
		e.config.RetryMaxAge = maxAge
	}
}

// WithReconcileConfig sets the sweeper interval and stale threshold.
func WithReconcileConfig(every, staleAfter time.Duration) Option {
	return func(e *Extension) {
		e.config.ReconcileInterval = every
		e.config.ReconcileStaleAfter = staleAfter
	}
}

// WithStrictCoupons makes pricing abort on the first invalid coupon.
func WithStrictCoupons() Option {
	return func(e *Extension) { e.config.StrictCoupons = true }
}
