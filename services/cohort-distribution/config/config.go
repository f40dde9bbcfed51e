package config

import (
	"fmt"
	"time"

	"github.com/cohortmanager/platform/shared/common"
)

// Config represents the configuration for the cohort distribution service
type Config struct {
	common.Config `mapstructure:",squash"`

	// Distribution configuration
	Distribution DistributionConfig `mapstructure:"distribution"`
}

// DistributionConfig controls the orchestrator and its consumers
type DistributionConfig struct {
	Workers                  int              `mapstructure:"workers"`
	RetryWorkers             int              `mapstructure:"retry_workers"`
	CallTimeout              time.Duration    `mapstructure:"call_timeout"`
	LockBackend              string           `mapstructure:"lock_backend"`
	LockTTL                  time.Duration    `mapstructure:"lock_ttl"`
	MaxRetryAttempts         int              `mapstructure:"max_retry_attempts"`
	RetryBackoff             time.Duration    `mapstructure:"retry_backoff"`
	MaxRetryBackoff          time.Duration    `mapstructure:"max_retry_backoff"`
	IgnoreExistingExceptions bool             `mapstructure:"ignore_existing_exceptions"`
	ExtractedDefault         bool             `mapstructure:"extracted_default"`
	AllowUnvalidated         bool             `mapstructure:"allow_unvalidated"`
	Workflow                 string           `mapstructure:"workflow"`
	Allocation               AllocationConfig `mapstructure:"allocation"`
	Extract                  ExtractConfig    `mapstructure:"extract"`
}

// AllocationConfig is the local postcode table used when no allocation
// service is configured
type AllocationConfig struct {
	DefaultProvider string            `mapstructure:"default_provider"`
	Prefixes        map[string]string `mapstructure:"prefixes"`
}

// ExtractConfig bounds downstream extraction requests
type ExtractConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v, err := common.NewViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("service.name", "cohort-distribution")
	v.SetDefault("server.port", 8082)
	v.SetDefault("distribution.workers", 4)
	v.SetDefault("distribution.retry_workers", 1)
	v.SetDefault("distribution.call_timeout", "10s")
	v.SetDefault("distribution.lock_backend", "redis")
	v.SetDefault("distribution.lock_ttl", "30s")
	v.SetDefault("distribution.max_retry_attempts", 5)
	v.SetDefault("distribution.retry_backoff", "30s")
	v.SetDefault("distribution.max_retry_backoff", "10m")
	v.SetDefault("distribution.ignore_existing_exceptions", false)
	v.SetDefault("distribution.extracted_default", false)
	v.SetDefault("distribution.allow_unvalidated", false)
	v.SetDefault("distribution.workflow", "CohortDistribution")
	v.SetDefault("distribution.allocation.default_provider", "BS SELECT")
	v.SetDefault("distribution.extract.default_limit", 500)
	v.SetDefault("distribution.extract.max_limit", 5000)

	if err := v.BindEnv("distribution.ignore_existing_exceptions", "IGNORE_PARTICIPANT_EXCEPTIONS"); err != nil {
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

// Validate checks the distribution section on top of the shared one
func (c *Config) Validate() error {
	var ve common.ValidationErrors
	common.CheckSharedConfig(&c.Config, &ve)

	topics := c.MessageQueue.Kafka.Topics
	if topics.Distribution == "" || topics.Retry == "" || topics.DeadLetter == "" {
		ve.Add("messagequeue.kafka.topics", "distribution, retry and dead letter topics are required", nil)
	}
	if c.Distribution.MaxRetryAttempts < 0 {
		ve.Add("distribution.max_retry_attempts", "cannot be negative", c.Distribution.MaxRetryAttempts)
	}
	if c.Distribution.Workers <= 0 || c.Distribution.RetryWorkers <= 0 {
		ve.Add("distribution.workers", "must be positive", c.Distribution.Workers)
	}
	if b := c.Distribution.LockBackend; b != "redis" && b != "local" {
		ve.Add("distribution.lock_backend", "must be redis or local", b)
	}
	if c.Distribution.Extract.DefaultLimit <= 0 || c.Distribution.Extract.MaxLimit < c.Distribution.Extract.DefaultLimit {
		ve.Add("distribution.extract", "limits are inconsistent", nil)
	}
	// Without a rules service every record would be distributed unvalidated.
	if c.Collaborator.Rules.BaseURL == "" && !c.Distribution.AllowUnvalidated {
		ve.Add("collaborators.rules.base_url", "is required unless distribution.allow_unvalidated is set", nil)
	}

	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}
