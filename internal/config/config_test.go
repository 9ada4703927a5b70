package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLayersYamlUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
postgres:
  host: db.internal
  port: 5433
kafka:
  consumer_group: yaml-group
matching:
  interval: 2s
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CMX_CONFIG", path)
	t.Setenv("CMX_KAFKA_CONSUMER_GROUP", "env-group")
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DB.Host != "db.internal" {
		t.Fatalf("expected yaml db host, got %q", cfg.DB.Host)
	}
	if cfg.DB.Port != 5433 {
		t.Fatalf("expected yaml db port, got %d", cfg.DB.Port)
	}
	if cfg.Kafka.ConsumerGroup != "env-group" {
		t.Fatalf("expected env var to override yaml, got %q", cfg.Kafka.ConsumerGroup)
	}
	if cfg.Matching.Interval != 2*time.Second {
		t.Fatalf("expected yaml match interval, got %s", cfg.Matching.Interval)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected default redis addr for unset key, got %q", cfg.Redis.Addr)
	}
	if cfg.Matching.OrderTTL != 60*time.Second {
		t.Fatalf("expected default order ttl for unset key, got %s", cfg.Matching.OrderTTL)
	}
}

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("CMX_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kafka.Topics.OrdersAccepted != "orders.accepted" {
		t.Fatalf("expected default topic, got %q", cfg.Kafka.Topics.OrdersAccepted)
	}
	if cfg.Matching.CommitTimeout != 5*time.Second {
		t.Fatalf("expected default commit timeout, got %s", cfg.Matching.CommitTimeout)
	}
}
