// Package config defines all configuration for the AMM core daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via AMM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Store     StoreConfig     `mapstructure:"store"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig points at the ledger's backing SQLite database.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PoolConfig holds pool-setup defaults. Validate checks them and cmd/ammd
// logs DefaultModel at startup. poolsetup.NormalizeAmmParams does not read
// this struct: its fallbacks are the poolsetup package constants and its
// fee_bps bound is fixed at [0, 10000].
//
//   - DefaultModel: default amm model name (lmsr or cpmm).
//   - DefaultB: default liquidity parameter.
//   - DefaultFeeBps: default taker fee, within [0, MaxFeeBps].
//   - MaxFeeBps: fee_bps ceiling, in (0, 10000].
//   - DefaultCollateralToken: default collateral token; required.
type PoolConfig struct {
	DefaultModel           string `mapstructure:"default_model"`
	DefaultB               string `mapstructure:"default_b"`
	DefaultFeeBps          int    `mapstructure:"default_fee_bps"`
	MaxFeeBps              int    `mapstructure:"max_fee_bps"`
	DefaultCollateralToken string `mapstructure:"default_collateral_token"`
}

// ExecutionConfig holds execution tuning values. Validate checks that
// DefaultMaxSlippageBps is positive; the execution engine does not read
// this struct. It has no configurable minimum trade amount, applies a
// slippage bound only when a request sets MaxSlippageBps, and uses its own
// fixed dust threshold of 0.1 shares.
//
//   - MinTradeAmount: minimum trade amount.
//   - DefaultMaxSlippageBps: default slippage bound in bps.
//   - DustShareThreshold: residual share balance treated as dust.
type ExecutionConfig struct {
	MinTradeAmount        string `mapstructure:"min_trade_amount"`
	DefaultMaxSlippageBps int    `mapstructure:"default_max_slippage_bps"`
	DustShareThreshold    string `mapstructure:"dust_share_threshold"`
}

// SchedulerConfig drives the periodic bucket open/close loop: at
// PollInterval, the scheduler asks its BucketSource which buckets are due
// to open or close and calls poolsetup/settlement accordingly.
//
//   - PollInterval: how often the scheduler polls its BucketSource.
//   - SettleConcurrency: max number of bucket closes processed
//     concurrently (bounded via golang.org/x/sync/semaphore).
type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SettleConcurrency int           `mapstructure:"settle_concurrency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive or deployment-specific fields use env vars: AMM_STORE_DSN,
// AMM_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dsn := os.Getenv("AMM_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if os.Getenv("AMM_DRY_RUN") == "true" || os.Getenv("AMM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (set AMM_STORE_DSN)")
	}
	switch c.Pool.DefaultModel {
	case "lmsr", "cpmm":
	default:
		return fmt.Errorf("pool.default_model must be one of: lmsr, cpmm")
	}
	if c.Pool.DefaultCollateralToken == "" {
		return fmt.Errorf("pool.default_collateral_token is required")
	}
	if c.Pool.MaxFeeBps <= 0 || c.Pool.MaxFeeBps > 10000 {
		return fmt.Errorf("pool.max_fee_bps must be in (0, 10000]")
	}
	if c.Pool.DefaultFeeBps < 0 || c.Pool.DefaultFeeBps > c.Pool.MaxFeeBps {
		return fmt.Errorf("pool.default_fee_bps must be within [0, pool.max_fee_bps]")
	}
	if c.Execution.DefaultMaxSlippageBps <= 0 {
		return fmt.Errorf("execution.default_max_slippage_bps must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0 when scheduler.enabled")
	}
	if c.Scheduler.Enabled && c.Scheduler.SettleConcurrency <= 0 {
		return fmt.Errorf("scheduler.settle_concurrency must be > 0 when scheduler.enabled")
	}
	return nil
}
