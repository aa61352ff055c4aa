package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager()
	if mgr == nil {
		t.Fatal("Expected manager to be non-nil")
	}
	if mgr.v == nil {
		t.Fatal("Expected viper instance to be non-nil")
	}
}

func TestDefaultValues(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"server.addr", cfg.Server.Addr, ":8001"},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout, 30 * time.Second},
		{"ingest.provider", cfg.Ingest.Provider, "kafka"},
		{"ingest.max_retries", cfg.Ingest.MaxRetries, 5},
		{"ingest.retry_delay", cfg.Ingest.RetryDelay, 5 * time.Second},
		{"ingest.kafka.group_id", cfg.Ingest.Kafka.GroupID, "opc-group"},
		{"ingest.kafka.offset", cfg.Ingest.Kafka.Offset, "latest"},
		{"ingest.mqtt.qos", cfg.Ingest.MQTT.QoS, byte(1)},
		{"fanout.queue_capacity", cfg.Fanout.QueueCapacity, 100},
		{"fanout.batch_size", cfg.Fanout.BatchSize, 20},
		{"fanout.drop_policy", cfg.Fanout.DropPolicy, "drop-oldest"},
		{"session.poll_timeout", cfg.Session.PollTimeout, time.Second},
		{"cache.ttl", cfg.Cache.TTL, 600 * time.Second},
		{"cache.redis.port", cfg.Cache.Redis.Port, 6379},
		{"auth.jwt_algorithm", cfg.Auth.JWTAlgorithm, "HS256"},
		{"logger.dev", cfg.Logger.Dev, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if len(cfg.Ingest.Kafka.Brokers) != 1 || cfg.Ingest.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("ingest.kafka.brokers: got %v", cfg.Ingest.Kafka.Brokers)
	}
}

func TestEnvironmentVariableOverrides(t *testing.T) {
	t.Setenv("TAGSTREAM_SERVER_ADDR", ":9090")
	t.Setenv("TAGSTREAM_INGEST_PROVIDER", "nats")
	t.Setenv("TAGSTREAM_FANOUT_QUEUE_CAPACITY", "8")
	t.Setenv("TAGSTREAM_LOGGER_DEV", "true")

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr: got %s, want :9090", cfg.Server.Addr)
	}
	if cfg.Ingest.Provider != "nats" {
		t.Errorf("ingest.provider: got %s, want nats", cfg.Ingest.Provider)
	}
	if cfg.Fanout.QueueCapacity != 8 {
		t.Errorf("fanout.queue_capacity: got %d, want 8", cfg.Fanout.QueueCapacity)
	}
	if !cfg.Logger.Dev {
		t.Error("logger.dev: expected true")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tagstream.yaml")
	content := []byte(`
ingest:
  provider: mqtt
  max_retries: 2
  mqtt:
    embedded: true
    port: 18830
fanout:
  drop_policy: drop-newest
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManagerWithOptions(WithConfigFile(path))
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if mgr.ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed: got %s, want %s", mgr.ConfigFileUsed(), path)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}
	if cfg.Ingest.Provider != "mqtt" || !cfg.Ingest.MQTT.Embedded || cfg.Ingest.MQTT.Port != 18830 {
		t.Errorf("unexpected mqtt settings: %+v", cfg.Ingest.MQTT)
	}
	if cfg.Ingest.MaxRetries != 2 {
		t.Errorf("ingest.max_retries: got %d, want 2", cfg.Ingest.MaxRetries)
	}
	if cfg.Fanout.DropPolicy != "drop-newest" {
		t.Errorf("fanout.drop_policy: got %s", cfg.Fanout.DropPolicy)
	}
	// Untouched keys keep their defaults
	if cfg.Fanout.QueueCapacity != 100 {
		t.Errorf("fanout.queue_capacity: got %d, want 100", cfg.Fanout.QueueCapacity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"unknown provider", "ingest.provider", "rabbit"},
		{"zero queue capacity", "fanout.queue_capacity", 0},
		{"unknown drop policy", "fanout.drop_policy", "block"},
		{"zero poll timeout", "session.poll_timeout", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager()
			mgr.Set(tt.key, tt.val)
			if _, err := mgr.GetConfig(); err == nil {
				t.Errorf("expected validation error for %s=%v", tt.key, tt.val)
			}
		})
	}
}
