package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ajitpratap0/healsink/pkg/registry"
)

// Execution strategy names.
const (
	StrategyBlocking = "blocking"
	StrategyQueued   = "queued"
)

// Config is the single configuration structure for a healsink pipeline.
type Config struct {
	// Name identifies the pipeline in logs and metrics
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Store describes the destination database
	Store StoreConfig `yaml:"store" json:"store" mapstructure:"store"`

	// Tables is the table registry source
	Tables TablesConfig `yaml:"tables" json:"tables" mapstructure:"tables"`

	// Write controls the orchestrator and execution strategy
	Write WriteConfig `yaml:"write" json:"write" mapstructure:"write"`

	// Reliability controls connection retries and health checks
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability" mapstructure:"reliability"`

	// Observability controls logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// StoreConfig describes the destination relational store.
type StoreConfig struct {
	// Dialect selects the backend adapter: mysql, postgres or sqlite
	Dialect string `yaml:"dialect" json:"dialect" mapstructure:"dialect"`
	// Host of the database server
	Host string `yaml:"host" json:"host" mapstructure:"host"`
	// Port of the database server; zero selects the dialect default
	Port int `yaml:"port" json:"port" mapstructure:"port"`
	// User to authenticate as
	User string `yaml:"user" json:"user" mapstructure:"user"`
	// Password for User (use ${ENV} substitution)
	Password string `yaml:"password" json:"-" mapstructure:"password"`
	// Database name, or file path for sqlite
	Database string `yaml:"database" json:"database" mapstructure:"database"`
	// Charset used for connections and CREATE DATABASE
	Charset string `yaml:"charset" json:"charset" mapstructure:"charset"`
	// Collate overrides the collation derived from Charset
	Collate string `yaml:"collate" json:"collate" mapstructure:"collate"`
	// Engine is the mysql storage engine for created tables
	Engine string `yaml:"engine" json:"engine" mapstructure:"engine"`
	// Params are extra driver DSN parameters
	Params map[string]string `yaml:"params" json:"params" mapstructure:"params"`
	// MaxOpenConns bounds the shared pool
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
	// MaxIdleConns bounds idle pooled connections
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns"`
	// ConnMaxLifetime recycles pooled connections
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// TablesConfig is the table registry source.
type TablesConfig struct {
	Prefix  string           `yaml:"prefix" json:"prefix" mapstructure:"prefix"`
	Entries []registry.Entry `yaml:"entries" json:"entries" mapstructure:"entries"`
}

// WriteConfig controls the write orchestrator.
type WriteConfig struct {
	// Strategy is blocking or queued
	Strategy string `yaml:"strategy" json:"strategy" mapstructure:"strategy"`
	// Workers is the queued worker count
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`
	// QueueSize bounds pending queued writes
	QueueSize int `yaml:"queue_size" json:"queue_size" mapstructure:"queue_size"`
	// MaxRemediations caps corrective cycles per write; zero derives it from the record
	MaxRemediations int `yaml:"max_remediations" json:"max_remediations" mapstructure:"max_remediations"`
	// Upsert enables the update half of the statement
	Upsert bool `yaml:"upsert" json:"upsert" mapstructure:"upsert"`
	// InsertIgnore makes plain inserts skip duplicate rows (mysql)
	InsertIgnore bool `yaml:"insert_ignore" json:"insert_ignore" mapstructure:"insert_ignore"`
	// DefaultTable is used for records that carry no table identifier
	DefaultTable string `yaml:"default_table" json:"default_table" mapstructure:"default_table"`
}

// ReliabilityConfig controls connection handling.
type ReliabilityConfig struct {
	// ConnectAttempts is the number of tries to acquire a connection
	ConnectAttempts int `yaml:"connect_attempts" json:"connect_attempts" mapstructure:"connect_attempts"`
	// RetryMinDelay is the lower bound of the randomized backoff
	RetryMinDelay time.Duration `yaml:"retry_min_delay" json:"retry_min_delay" mapstructure:"retry_min_delay"`
	// RetryMaxDelay is the upper bound of the randomized backoff
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" json:"retry_max_delay" mapstructure:"retry_max_delay"`
	// CreateDatabase creates a missing database on connect
	CreateDatabase bool `yaml:"create_database" json:"create_database" mapstructure:"create_database"`
	// HealthCheck probes the blocking connection before each write
	HealthCheck bool `yaml:"health_check" json:"health_check" mapstructure:"health_check"`
	// ShutdownTimeout bounds draining the queued strategy
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding" mapstructure:"log_encoding"`
	// EnableMetrics exposes prometheus metrics on MetricsAddr
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr is the listen address of the metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing exports spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
}

// NewConfig returns a configuration with production defaults.
func NewConfig(name string) *Config {
	return &Config{
		Name: name,
		Store: StoreConfig{
			Dialect:         "mysql",
			Host:            "localhost",
			Charset:         "utf8mb4",
			Engine:          "InnoDB",
			Params:          make(map[string]string),
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Write: WriteConfig{
			Strategy:  StrategyBlocking,
			Workers:   runtime.NumCPU(),
			QueueSize: 1024,
			Upsert:    true,
		},
		Reliability: ReliabilityConfig{
			ConnectAttempts: 3,
			RetryMinDelay:   200 * time.Millisecond,
			RetryMaxDelay:   time.Second,
			CreateDatabase:  true,
			HealthCheck:     true,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			MetricsAddr:       ":9464",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Store.Dialect == "" {
		return fmt.Errorf("store.dialect is required")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store.database is required")
	}
	if c.Store.Port < 0 || c.Store.Port > 65535 {
		return fmt.Errorf("store.port %d out of range", c.Store.Port)
	}
	switch c.Write.Strategy {
	case StrategyBlocking:
	case StrategyQueued:
		if c.Write.Workers <= 0 {
			return fmt.Errorf("write.workers must be positive for the queued strategy")
		}
	default:
		return fmt.Errorf("write.strategy must be %q or %q, got %q", StrategyBlocking, StrategyQueued, c.Write.Strategy)
	}
	if c.Write.QueueSize < 0 {
		return fmt.Errorf("write.queue_size cannot be negative")
	}
	if c.Write.MaxRemediations < 0 {
		return fmt.Errorf("write.max_remediations cannot be negative")
	}
	if c.Reliability.ConnectAttempts < 1 {
		return fmt.Errorf("reliability.connect_attempts must be at least 1")
	}
	if c.Reliability.RetryMinDelay < 0 || c.Reliability.RetryMaxDelay < c.Reliability.RetryMinDelay {
		return fmt.Errorf("reliability retry delays must satisfy 0 <= min <= max")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// IsQueued returns true if the queued strategy is selected
func (w *WriteConfig) IsQueued() bool {
	return w.Strategy == StrategyQueued
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Store.Password != "" {
		out.Store.Password = "******"
	}
	return &out
}
