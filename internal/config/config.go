// Package config loads normkernel.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/macterra/Axio-sub017/internal/gate"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// Environment overrides, applied after the file is read.
const (
	EnvDB       = "NORMKERNEL_DB"
	EnvEnvAddr  = "NORMKERNEL_ENV_ADDR"
	EnvLogLevel = "NORMKERNEL_LOG_LEVEL"
)

// #region types
// Config is the complete kernel configuration.
type Config struct {
	Ledger      LedgerConfig      `yaml:"ledger"`
	Gate        gate.Config       `yaml:"gate"`
	Kernel      KernelConfig      `yaml:"kernel"`
	Environment EnvironmentConfig `yaml:"environment"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LedgerConfig locates the SQLite history.
type LedgerConfig struct {
	DBPath string `yaml:"db_path"`
}

// KernelConfig bounds the per-run state machine.
type KernelConfig struct {
	MaxRepairAttempts int             `yaml:"max_repair_attempts"`
	ObligationForm    norm.EffectForm `yaml:"obligation_form"`
}

// EnvironmentConfig points at the remote Environment oracle.
type EnvironmentConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}
// #endregion types

// #region defaults
// Default returns a configuration usable without a file.
func Default() Config {
	return Config{
		Ledger:      LedgerConfig{DBPath: "normkernel.db"},
		Gate:        gate.DefaultConfig(),
		Kernel:      KernelConfig{MaxRepairAttempts: 1, ObligationForm: norm.FormGoal},
		Environment: EnvironmentConfig{Addr: "localhost:50051", Timeout: 5 * time.Second},
		Logging:     LoggingConfig{Level: "info"},
	}
}
// #endregion defaults

// #region load
// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Ledger.DBPath = envOr(EnvDB, c.Ledger.DBPath)
	c.Environment.Addr = envOr(EnvEnvAddr, c.Environment.Addr)
	c.Logging.Level = envOr(EnvLogLevel, c.Logging.Level)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion load

// #region validate
// Validate rejects configurations the kernel cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Ledger.DBPath == "" {
		errs = append(errs, errors.New("ledger.db_path is empty"))
	}
	if c.Gate.MaxRepairs <= 0 {
		errs = append(errs, fmt.Errorf("gate.max_repairs must be positive, got %d", c.Gate.MaxRepairs))
	}
	if c.Kernel.MaxRepairAttempts <= 0 {
		errs = append(errs, fmt.Errorf("kernel.max_repair_attempts must be positive, got %d", c.Kernel.MaxRepairAttempts))
	}
	switch c.Kernel.ObligationForm {
	case norm.FormGoal, norm.FormDirect:
	default:
		errs = append(errs, fmt.Errorf("kernel.obligation_form %q is neither goal nor direct", c.Kernel.ObligationForm))
	}
	if c.Environment.Timeout < 0 {
		errs = append(errs, errors.New("environment.timeout is negative"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
// #endregion validate
