package config

import (
	"fmt"
	"time"

	"github.com/cohortmanager/platform/shared/common"
)

// Config represents the configuration for the reconciliation service
type Config struct {
	common.Config `mapstructure:",squash"`

	// Reconciliation configuration
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

// ReconciliationConfig controls the scheduled comparison
type ReconciliationConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Lookback    time.Duration `mapstructure:"lookback"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v, err := common.NewViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("service.name", "reconciliation")
	v.SetDefault("server.port", 8083)
	v.SetDefault("reconciliation.interval", "1h")
	v.SetDefault("reconciliation.lookback", "24h")
	v.SetDefault("reconciliation.read_timeout", "1m")
	v.SetDefault("reconciliation.run_on_start", false)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the reconciliation section on top of the shared one
func (c *Config) Validate() error {
	if err := common.ValidateConfig(&c.Config); err != nil {
		return err
	}
	if c.Reconciliation.Interval <= 0 || c.Reconciliation.Lookback <= 0 {
		return fmt.Errorf("reconciliation interval and lookback must be positive")
	}
	return nil
}
