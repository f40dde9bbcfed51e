package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cohortmanager/platform/shared/common"
)

// Config represents the configuration for the intake service
type Config struct {
	common.Config `mapstructure:",squash"`

	// Intake configuration
	Intake IntakeConfig `mapstructure:"intake"`
}

// IntakeConfig controls how bulk extracts are read and batched
type IntakeConfig struct {
	BatchSize         int                    `mapstructure:"batch_size"`
	Parallelism       int                    `mapstructure:"parallelism"`
	PollInterval      time.Duration          `mapstructure:"poll_interval"`
	CheckDigit        bool                   `mapstructure:"check_digit"`
	AllowedExtensions []string               `mapstructure:"allowed_extensions"`
	ScreeningCacheTTL time.Duration          `mapstructure:"screening_cache_ttl"`
	Source            SourceConfig           `mapstructure:"source"`
	ScreeningServices []ScreeningServiceSeed `mapstructure:"screening_services"`
}

// SourceConfig selects where bulk extracts arrive
type SourceConfig struct {
	Type            string `mapstructure:"type"` // local or s3
	Directory       string `mapstructure:"directory"`
	PoisonDirectory string `mapstructure:"poison_directory"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	PoisonPrefix    string `mapstructure:"poison_prefix"`
	Region          string `mapstructure:"region"`
}

// ScreeningServiceSeed is registered in the lookup table on start
type ScreeningServiceSeed struct {
	WorkflowCode string `mapstructure:"workflow_code"`
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Acronym      string `mapstructure:"acronym"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v, err := common.NewViper(configPath)
	if err != nil {
		return nil, err
	}

	v.SetDefault("service.name", "intake")
	v.SetDefault("intake.batch_size", 1000)
	v.SetDefault("intake.parallelism", 4)
	v.SetDefault("intake.poll_interval", "30s")
	v.SetDefault("intake.check_digit", true)
	v.SetDefault("intake.allowed_extensions", []string{"csv", "parquet"})
	v.SetDefault("intake.screening_cache_ttl", "1h")
	v.SetDefault("intake.source.type", "local")
	v.SetDefault("intake.source.directory", "./inbound")
	v.SetDefault("intake.source.poison_directory", "./inbound-poison")
	v.SetDefault("intake.source.prefix", "inbound/")
	v.SetDefault("intake.source.poison_prefix", "inbound-poison/")
	v.SetDefault("intake.source.region", "eu-west-2")
	v.SetDefault("intake.screening_services", []map[string]string{
		{"workflow_code": "BSSelect", "id": "1", "name": "Breast Screening", "acronym": "BSS"},
	})

	for key, env := range map[string]string{
		"intake.source.type":   "INTAKE_SOURCE_TYPE",
		"intake.source.bucket": "AWS_S3_BUCKET",
		"intake.source.region": "AWS_REGION",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind environment: %w", err)
		}
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

// Validate checks the intake section on top of the shared one
func (c *Config) Validate() error {
	if err := common.ValidateConfig(&c.Config); err != nil {
		return err
	}
	if c.Intake.BatchSize <= 0 {
		return fmt.Errorf("intake batch size must be positive")
	}
	if c.Intake.Parallelism <= 0 {
		return fmt.Errorf("intake parallelism must be positive")
	}
	switch strings.ToLower(c.Intake.Source.Type) {
	case "local":
		if c.Intake.Source.Directory == "" || c.Intake.Source.PoisonDirectory == "" {
			return fmt.Errorf("local source requires directory and poison_directory")
		}
	case "s3":
		if c.Intake.Source.Bucket == "" {
			return fmt.Errorf("s3 source requires a bucket")
		}
	default:
		return fmt.Errorf("unknown source type: %s", c.Intake.Source.Type)
	}
	if c.MessageQueue.Kafka.Topics.Batches == "" {
		return fmt.Errorf("batches topic is required")
	}
	return nil
}
