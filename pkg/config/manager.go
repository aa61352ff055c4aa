package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Manager handles configuration loading from file, environment and defaults
type Manager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager with defaults
func NewManager() *Manager {
	v := viper.New()

	v.SetConfigName("tagstream")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tagstream")
	v.AddConfigPath("$HOME/.tagstream")

	v.SetEnvPrefix("TAGSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Manager{v: v}
}

// NewManagerWithOptions creates a new configuration manager with custom options
func NewManagerWithOptions(opts ...Option) *Manager {
	m := NewManager()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithConfigFile sets a specific config file path
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.v.SetConfigFile(path)
	}
}

// WithConfigPath adds a path to search for config files
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		m.v.AddConfigPath(path)
	}
}

// WithEnvPrefix sets the environment variable prefix
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.v.SetEnvPrefix(prefix)
	}
}

// Load reads the config file if one exists. A missing file is not an error.
func (m *Manager) Load() error {
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns a configuration value by key
func (m *Manager) Get(key string) interface{} {
	return m.v.Get(key)
}

// GetString returns a string configuration value
func (m *Manager) GetString(key string) string {
	return m.v.GetString(key)
}

// Set sets a configuration value
func (m *Manager) Set(key string, value interface{}) {
	m.v.Set(key, value)
}

// ConfigFileUsed returns the path of the loaded config file, if any
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	switch c.Ingest.Provider {
	case "kafka", "nats", "mqtt", "memory":
	default:
		return fmt.Errorf("unknown ingest provider: %q", c.Ingest.Provider)
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("ingest.max_retries must not be negative")
	}
	if c.Fanout.QueueCapacity <= 0 {
		return fmt.Errorf("fanout.queue_capacity must be positive, got %d", c.Fanout.QueueCapacity)
	}
	switch c.Fanout.DropPolicy {
	case "drop-oldest", "drop-newest":
	default:
		return fmt.Errorf("unknown fanout.drop_policy: %q", c.Fanout.DropPolicy)
	}
	if c.Session.PollTimeout <= 0 {
		return fmt.Errorf("session.poll_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8001")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.drain_timeout", "25s")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.gzip", true)

	// Logger defaults
	v.SetDefault("logger.dev", false)
	v.SetDefault("logger.path", "")

	// Error tracking defaults
	v.SetDefault("error_tracking.enabled", false)
	v.SetDefault("error_tracking.provider", "noop")
	v.SetDefault("error_tracking.sample_rate", 1.0)
	v.SetDefault("error_tracking.traces_sample_rate", 0.0)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "tagstream")
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tagstream")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.endpoint", "")

	// Ingest defaults
	v.SetDefault("ingest.provider", "kafka")
	v.SetDefault("ingest.queue_size", 1000)
	v.SetDefault("ingest.max_retries", 5)
	v.SetDefault("ingest.retry_delay", "5s")
	v.SetDefault("ingest.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("ingest.kafka.topic", "test")
	v.SetDefault("ingest.kafka.group_id", "opc-group")
	v.SetDefault("ingest.kafka.offset", "latest")
	v.SetDefault("ingest.kafka.min_bytes", 1)
	v.SetDefault("ingest.kafka.max_bytes", 10000000)
	v.SetDefault("ingest.kafka.max_wait", "500ms")
	v.SetDefault("ingest.nats.url", "nats://localhost:4222")
	v.SetDefault("ingest.nats.subject", "tags.>")
	v.SetDefault("ingest.nats.queue_group", "")
	v.SetDefault("ingest.nats.timeout", "5s")
	v.SetDefault("ingest.mqtt.embedded", false)
	v.SetDefault("ingest.mqtt.host", "0.0.0.0")
	v.SetDefault("ingest.mqtt.port", 1883)
	v.SetDefault("ingest.mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("ingest.mqtt.client_id", "tagstream")
	v.SetDefault("ingest.mqtt.topic", "tags/#")
	v.SetDefault("ingest.mqtt.qos", 1)
	v.SetDefault("ingest.mqtt.timeout", "10s")

	// Fanout defaults
	v.SetDefault("fanout.queue_capacity", 100)
	v.SetDefault("fanout.batch_size", 20)
	v.SetDefault("fanout.drop_policy", "drop-oldest")

	// Session defaults
	v.SetDefault("session.poll_timeout", "1s")
	v.SetDefault("session.write_timeout", "10s")
	v.SetDefault("session.ping_interval", "54s")
	v.SetDefault("session.pong_wait", "60s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_algorithm", "HS256")
	v.SetDefault("auth.token_query_param", "token")

	// Database defaults
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.history_limit", 1000)

	// Cache defaults
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.ttl", "600s")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.memcache.servers", []string{"localhost:11211"})
	v.SetDefault("cache.memcache.max_idle_conns", 10)
	v.SetDefault("cache.memcache.timeout", "100ms")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 20)
}
