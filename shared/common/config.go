package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents configuration shared by every cohort service
type Config struct {
	Service      ServiceConfig      `mapstructure:"service"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	MessageQueue MessageQueueConfig `mapstructure:"messagequeue"`
	Collaborator CollaboratorConfig `mapstructure:"collaborators"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
}

// PostgreSQLConfig contains PostgreSQL configuration
type PostgreSQLConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Database         string        `mapstructure:"database"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// DSN builds a lib/pq connection string
func (c PostgreSQLConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MessageQueueConfig contains message queue configuration
type MessageQueueConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	ClientID       string        `mapstructure:"client_id"`
	RetryMax       int           `mapstructure:"retry_max"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	Topics         TopicConfig   `mapstructure:"topics"`
}

// TopicConfig names every topic the pipeline writes to or reads from
type TopicConfig struct {
	Batches      string `mapstructure:"batches"`
	Distribution string `mapstructure:"distribution"`
	Retry        string `mapstructure:"retry"`
	DeadLetter   string `mapstructure:"dead_letter"`
}

// CollaboratorConfig lists the external HTTP services the pipeline calls
type CollaboratorConfig struct {
	Demographic EndpointConfig `mapstructure:"demographic"`
	Allocation  EndpointConfig `mapstructure:"allocation"`
	Rules       EndpointConfig `mapstructure:"rules"`
}

// EndpointConfig describes a single external HTTP collaborator
type EndpointConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	Burst            int           `mapstructure:"burst"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// NewViper prepares a viper instance with defaults, environment bindings and
// the optional config.yaml found on the search path. Service packages
// unmarshal their own sections from the returned instance.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cohort")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COHORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvironmentVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// LoadConfig loads the shared configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "cohort-service")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.postgresql.host", "localhost")
	v.SetDefault("database.postgresql.port", 5432)
	v.SetDefault("database.postgresql.database", "cohort")
	v.SetDefault("database.postgresql.username", "cohort_app")
	v.SetDefault("database.postgresql.ssl_mode", "disable")
	v.SetDefault("database.postgresql.max_open_conns", 25)
	v.SetDefault("database.postgresql.max_idle_conns", 5)
	v.SetDefault("database.postgresql.conn_max_lifetime", "5m")
	v.SetDefault("database.postgresql.query_timeout", "10s")
	v.SetDefault("database.postgresql.max_retries", 3)
	v.SetDefault("database.postgresql.retry_backoff", "200ms")
	v.SetDefault("database.postgresql.breaker_threshold", 5)
	v.SetDefault("database.postgresql.breaker_timeout", "30s")

	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.database", 0)
	v.SetDefault("cache.redis.max_retries", 3)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.idle_timeout", "5m")
	v.SetDefault("cache.redis.key_prefix", "cohort")

	v.SetDefault("messagequeue.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("messagequeue.kafka.group_id", "cohort-manager")
	v.SetDefault("messagequeue.kafka.client_id", "cohort-client")
	v.SetDefault("messagequeue.kafka.retry_max", 3)
	v.SetDefault("messagequeue.kafka.batch_size", 100)
	v.SetDefault("messagequeue.kafka.batch_timeout", "50ms")
	v.SetDefault("messagequeue.kafka.write_timeout", "10s")
	v.SetDefault("messagequeue.kafka.commit_interval", "1s")
	v.SetDefault("messagequeue.kafka.max_wait", "500ms")
	v.SetDefault("messagequeue.kafka.topics.batches", "cohort.intake.batches")
	v.SetDefault("messagequeue.kafka.topics.distribution", "cohort.distribution.requests")
	v.SetDefault("messagequeue.kafka.topics.retry", "cohort.distribution.retry")
	v.SetDefault("messagequeue.kafka.topics.dead_letter", "cohort.distribution.poison")

	for _, name := range []string{"demographic", "allocation", "rules"} {
		prefix := "collaborators." + name
		v.SetDefault(prefix+".timeout", "10s")
		v.SetDefault(prefix+".rate_limit", 50)
		v.SetDefault(prefix+".burst", 100)
		v.SetDefault(prefix+".breaker_threshold", 5)
		v.SetDefault(prefix+".breaker_timeout", "30s")
	}

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "cohort")
}

func bindEnvironmentVariables(v *viper.Viper) error {
	bindings := map[string]string{
		"service.name":                       "SERVICE_NAME",
		"service.environment":                "ENVIRONMENT",
		"server.port":                        "SERVER_PORT",
		"database.postgresql.host":           "POSTGRES_HOST",
		"database.postgresql.port":           "POSTGRES_PORT",
		"database.postgresql.database":       "POSTGRES_DB",
		"database.postgresql.username":       "POSTGRES_USER",
		"database.postgresql.password":       "POSTGRES_PASSWORD",
		"database.postgresql.ssl_mode":       "POSTGRES_SSL_MODE",
		"cache.redis.host":                   "REDIS_HOST",
		"cache.redis.port":                   "REDIS_PORT",
		"cache.redis.password":               "REDIS_PASSWORD",
		"messagequeue.kafka.brokers":         "KAFKA_BROKERS",
		"messagequeue.kafka.group_id":        "KAFKA_GROUP_ID",
		"collaborators.demographic.base_url": "DEMOGRAPHIC_SERVICE_URL",
		"collaborators.allocation.base_url":  "ALLOCATION_SERVICE_URL",
		"collaborators.rules.base_url":       "RULES_SERVICE_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConfig checks the shared sections and reports every failing field
func ValidateConfig(config *Config) error {
	var ve ValidationErrors
	CheckSharedConfig(config, &ve)
	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

// CheckSharedConfig adds the shared section failures to ve so service
// configs can report them together with their own
func CheckSharedConfig(config *Config, ve *ValidationErrors) {
	if config.Service.Name == "" {
		ve.Add("service.name", "is required", nil)
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		ve.Add("server.port", "is out of range", config.Server.Port)
	}
	if config.Database.PostgreSQL.Host == "" {
		ve.Add("database.postgresql.host", "is required", nil)
	}
	if len(config.MessageQueue.Kafka.Brokers) == 0 {
		ve.Add("messagequeue.kafka.brokers", "needs at least one broker", nil)
	}
}

// GetEnv gets an environment variable with a fallback default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
