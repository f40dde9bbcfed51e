package config

import (
	"fmt"
	"time"

	"github.com/cohortmanager/platform/shared/common"
)

// Config represents the configuration for the participant manager service
type Config struct {
	common.Config `mapstructure:",squash"`

	// Record processing configuration
	Processing ProcessingConfig `mapstructure:"processing"`
}

// ProcessingConfig controls how batches are classified and forwarded
type ProcessingConfig struct {
	Workers                 int           `mapstructure:"workers"`
	RowParallelism          int           `mapstructure:"row_parallelism"`
	CallTimeout             time.Duration `mapstructure:"call_timeout"`
	BatchTimeout            time.Duration `mapstructure:"batch_timeout"`
	AllowDeleteDistribution bool          `mapstructure:"allow_delete_distribution"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v, err := common.NewViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("service.name", "participant-manager")
	v.SetDefault("server.port", 8081)
	v.SetDefault("processing.workers", 2)
	v.SetDefault("processing.row_parallelism", 8)
	v.SetDefault("processing.call_timeout", "15s")
	v.SetDefault("processing.batch_timeout", "10m")
	v.SetDefault("processing.allow_delete_distribution", false)

	if err := v.BindEnv("processing.allow_delete_distribution", "ALLOW_DELETE_DISTRIBUTION"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the processing section on top of the shared one
func (c *Config) Validate() error {
	if err := common.ValidateConfig(&c.Config); err != nil {
		return err
	}
	if c.Processing.Workers <= 0 || c.Processing.RowParallelism <= 0 {
		return fmt.Errorf("workers and row parallelism must be positive")
	}
	if c.MessageQueue.Kafka.Topics.Batches == "" || c.MessageQueue.Kafka.Topics.Distribution == "" {
		return fmt.Errorf("batches and distribution topics are required")
	}
	return nil
}
