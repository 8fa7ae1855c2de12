// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Minio      MinioConfig      `yaml:"minio"`
	LevelDB    LevelDBConfig    `yaml:"leveldb"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// ServerConfig holds the status API server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"-"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	URL          string `yaml:"url"`
	Exchange     string `yaml:"exchange"`
	ResultsQueue string `yaml:"resultsQueue"`
	ExchangeType string `yaml:"exchangeType"`
}

// MinioConfig holds object store configuration
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// LevelDBConfig holds the local read-through cache configuration
type LevelDBConfig struct {
	Path       string `yaml:"path"`
	TTLSeconds int    `yaml:"ttlSeconds"`
}

// SandboxConfig holds renderer worker configuration
type SandboxConfig struct {
	MaxWorkers       int `yaml:"maxWorkers"`
	ExecTimeout      int `yaml:"execTimeout"`      // seconds, per-invocation VM interrupt
	TemplateCacheTTL int `yaml:"templateCacheTTL"` // seconds
	TemplateCacheMax int `yaml:"templateCacheMax"` // entries
	ShutdownTimeout  int `yaml:"shutdownTimeout"`  // seconds
}

// WebhookConfig holds notification dispatcher configuration
type WebhookConfig struct {
	RequestTimeout int `yaml:"requestTimeout"` // seconds, per attempt
}

// ReconcilerConfig holds the timeout sweep configuration
type ReconcilerConfig struct {
	Interval int `yaml:"interval"` // seconds between sweeps
	Timeout  int `yaml:"timeout"`  // seconds a task may sit unedited
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultExchange           = "filegen"
	DefaultResultsQueue       = "filegen.results"
	DefaultExchangeType       = "direct"
	DefaultLevelDBPath        = "./data/leveldb"
	DefaultDocCacheTTL        = 10
	DefaultBucket             = "filegen"
	DefaultMaxWorkers         = 4
	DefaultExecTimeout        = 60
	DefaultTemplateCacheTTL   = 180
	DefaultTemplateCacheMax   = 128
	DefaultShutdownTimeout    = 30
	DefaultWebhookTimeout     = 10
	DefaultSweepInterval      = 300
	DefaultSweepTimeout       = 300
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load creates a new configuration from the YAML file, with environment
// variables taking precedence for anything deployment-specific.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	postgresURL := os.Getenv("FILEGEN_POSTGRES_URL")
	if postgresURL == "" {
		return nil, fmt.Errorf("FILEGEN_POSTGRES_URL environment variable is required")
	}

	rabbitmqURL := os.Getenv("FILEGEN_RABBITMQ_URL")
	if rabbitmqURL == "" {
		return nil, fmt.Errorf("FILEGEN_RABBITMQ_URL environment variable is required")
	}

	config.Server = ServerConfig{
		Port:         getEnv("FILEGEN_SERVER_PORT", DefaultServerPort),
		ReadTimeout:  getEnvInt("FILEGEN_SERVER_READ_TIMEOUT", DefaultServerReadTimeout),
		WriteTimeout: getEnvInt("FILEGEN_SERVER_WRITE_TIMEOUT", DefaultServerWriteTimeout),
	}

	config.Postgres = PostgresConfig{URL: postgresURL}

	config.RabbitMQ = RabbitMQConfig{
		URL:          rabbitmqURL,
		Exchange:     getEnv("FILEGEN_RABBITMQ_EXCHANGE", DefaultExchange),
		ResultsQueue: getEnv("FILEGEN_RABBITMQ_RESULTS_QUEUE", DefaultResultsQueue),
		ExchangeType: getEnv("FILEGEN_RABBITMQ_EXCHANGE_TYPE", DefaultExchangeType),
	}

	config.Minio.Endpoint = getEnv("FILEGEN_MINIO_ENDPOINT", config.Minio.Endpoint)
	config.Minio.AccessKey = os.Getenv("FILEGEN_MINIO_ACCESS_KEY")
	config.Minio.SecretKey = os.Getenv("FILEGEN_MINIO_SECRET_KEY")
	if config.Minio.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required (config or FILEGEN_MINIO_ENDPOINT)")
	}
	if config.Minio.Bucket == "" {
		config.Minio.Bucket = DefaultBucket
	}

	config.LevelDB = LevelDBConfig{
		Path:       getEnv("FILEGEN_LEVELDB_PATH", orDefault(config.LevelDB.Path, DefaultLevelDBPath)),
		TTLSeconds: orDefaultInt(config.LevelDB.TTLSeconds, DefaultDocCacheTTL),
	}

	config.Sandbox = SandboxConfig{
		MaxWorkers:       getEnvInt("FILEGEN_SANDBOX_MAX_WORKERS", orDefaultInt(config.Sandbox.MaxWorkers, DefaultMaxWorkers)),
		ExecTimeout:      orDefaultInt(config.Sandbox.ExecTimeout, DefaultExecTimeout),
		TemplateCacheTTL: orDefaultInt(config.Sandbox.TemplateCacheTTL, DefaultTemplateCacheTTL),
		TemplateCacheMax: orDefaultInt(config.Sandbox.TemplateCacheMax, DefaultTemplateCacheMax),
		ShutdownTimeout:  getEnvInt("FILEGEN_SHUTDOWN_TIMEOUT", orDefaultInt(config.Sandbox.ShutdownTimeout, DefaultShutdownTimeout)),
	}

	config.Webhook = WebhookConfig{
		RequestTimeout: orDefaultInt(config.Webhook.RequestTimeout, DefaultWebhookTimeout),
	}

	config.Reconciler = ReconcilerConfig{
		Interval: orDefaultInt(config.Reconciler.Interval, DefaultSweepInterval),
		Timeout:  orDefaultInt(config.Reconciler.Timeout, DefaultSweepTimeout),
	}

	return &config, nil
}

func (c ReconcilerConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c ReconcilerConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
