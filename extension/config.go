package extension

import "time"

// Store driver names accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the Subledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.subledger" or "subledger" keys).
type Config struct {
	// Driver selects the store backend (memory, postgres, sqlite, mongo).
	// Non-memory drivers need a grove.DB supplied via WithDatabase.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DisableMigrate prevents auto-migration on start. The operator applies
	// migrations out of band.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BackendTimeout bounds each payment backend call (default: 30s).
	BackendTimeout time.Duration `json:"backend_timeout" mapstructure:"backend_timeout" yaml:"backend_timeout"`

	// PlanCacheTTL controls how long plan lookups are cached before
	// re-reading from the store (default: 30s).
	PlanCacheTTL time.Duration `json:"plan_cache_ttl" mapstructure:"plan_cache_ttl" yaml:"plan_cache_ttl"`

	// RetryMaxAttempts is the number of declined renewals tolerated before
	// a past_due subscription expires. Zero disables the bound.
	RetryMaxAttempts int `json:"retry_max_attempts" mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`

	// RetryMaxAge is how long after the first declined renewal retries keep
	// being accepted. Zero disables the bound.
	RetryMaxAge time.Duration `json:"retry_max_age" mapstructure:"retry_max_age" yaml:"retry_max_age"`

	// ReconcileInterval is how often the sweeper scans for transactions
	// stuck in pending (default: 1m).
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcileStaleAfter is how long a transaction may sit pending before
	// the sweeper flags it (default: 5m).
	ReconcileStaleAfter time.Duration `json:"reconcile_stale_after" mapstructure:"reconcile_stale_after" yaml:"reconcile_stale_after"`

	// StrictCoupons makes pricing abort on the first invalid coupon instead
	// of skipping it.
	StrictCoupons bool `json:"strict_coupons" mapstructure:"strict_coupons" yaml:"strict_coupons"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:              DriverMemory,
		BackendTimeout:      30 * time.Second,
		PlanCacheTTL:        30 * time.Second,
		RetryMaxAttempts:    3,
		ReconcileInterval:   time.Minute,
		ReconcileStaleAfter: 5 * time.Minute,
	}
}
