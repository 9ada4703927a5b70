package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	base "github.com/tradecore/coinmatch/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaTopics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
	PricesUpdated   string
	DeadLetter      string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PriceTTL time.Duration
}

type MatchingConfig struct {
	Interval      time.Duration
	OrderTTL      time.Duration
	CommitTimeout time.Duration
	NotifyTimeout time.Duration
}

type Config struct {
	App      base.AppConfig
	DB       DBConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Matching MatchingConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("CMX_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CMX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := os.Getenv("CMX_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", v.GetString("postgres.host"))),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", v.GetInt("postgres.port"))),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", v.GetString("postgres.database"))),
			User:     envString("DB_USER", envString("POSTGRES_USER", v.GetString("postgres.user"))),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", v.GetString("postgres.password"))),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", v.GetString("postgres.sslmode"))),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				OrdersAccepted:  envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled: envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				TradesExecuted:  envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				PricesUpdated:   envString("KAFKA_PRICES_TOPIC", v.GetString("kafka.topics.prices_updated")),
				DeadLetter:      envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
			PriceTTL: envDuration("REDIS_PRICE_TTL", v.GetDuration("redis.price_ttl")),
		},
		Matching: MatchingConfig{
			Interval:      envDuration("MATCH_INTERVAL", v.GetDuration("matching.interval")),
			OrderTTL:      envDuration("ORDER_TTL", v.GetDuration("matching.order_ttl")),
			CommitTimeout: envDuration("MATCH_COMMIT_TIMEOUT", v.GetDuration("matching.commit_timeout")),
			NotifyTimeout: envDuration("MATCH_NOTIFY_TIMEOUT", v.GetDuration("matching.notify_timeout")),
		},
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Topics.OrdersAccepted == "" || cfg.Kafka.Topics.OrdersCancelled == "" ||
		cfg.Kafka.Topics.TradesExecuted == "" || cfg.Kafka.Topics.PricesUpdated == "" {
		return nil, fmt.Errorf("kafka topics required")
	}
	if cfg.Matching.Interval <= 0 {
		return nil, fmt.Errorf("match interval must be positive")
	}
	if cfg.Matching.OrderTTL <= 0 {
		return nil, fmt.Errorf("order ttl must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "coinmatch")
	v.SetDefault("postgres.user", "coinmatch")
	v.SetDefault("postgres.password", "coinmatch")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "coinmatch")
	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.prices_updated", "prices.updated")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.price_ttl", "5m")
	v.SetDefault("matching.interval", "5s")
	v.SetDefault("matching.order_ttl", "60s")
	v.SetDefault("matching.commit_timeout", "5s")
	v.SetDefault("matching.notify_timeout", "3s")
}

func envString(key, def string) string {
	if v := os.Getenv("CMX_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("CMX_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("CMX_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, raw := range []string{os.Getenv("CMX_" + key), os.Getenv(key)} {
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
