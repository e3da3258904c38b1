package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration shared by the consumer,
// processor, operator API and opsctl binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Outbound  OutboundConfig  `mapstructure:"outbound"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig configures the operator bearer tokens.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// QueueConfig configures the SQS queues. Endpoint is only set for local
// emulators such as LocalStack or ElasticMQ.
type QueueConfig struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	InboundQueueURL   string        `mapstructure:"inbound_queue_url"`
	OutboundQueueURL  string        `mapstructure:"outbound_queue_url"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
}

// OutboundConfig selects where status updates are published.
type OutboundConfig struct {
	Driver string `mapstructure:"driver"` // sqs, rabbitmq, none
	Source string `mapstructure:"source"`
}

type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type ConsumerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	VerifySource  bool          `mapstructure:"verify_source"`
	RequiredScope string        `mapstructure:"required_scope"`
}

type ProcessorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// MintConfig describes one supported token mint.
type MintConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

type SolanaConfig struct {
	RPCURL                 string                `mapstructure:"rpc_url"`
	DistributionPrivateKey string                `mapstructure:"distribution_private_key"` // base58
	Commitment             string                `mapstructure:"commitment"`
	Mints                  map[string]MintConfig `mapstructure:"mints"`
}

type IdentityConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the worker metrics listener
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PAYOUT_.
// Nested keys use underscore: PAYOUT_DATABASE_HOST, PAYOUT_SOLANA_RPC_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "anchor_payout")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "8h")
	v.SetDefault("jwt.issuer", "anchor-payout")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("queue.region", "eu-west-1")
	v.SetDefault("queue.endpoint", "")
	v.SetDefault("queue.inbound_queue_url", "")
	v.SetDefault("queue.outbound_queue_url", "")
	v.SetDefault("queue.visibility_timeout", "30s")
	v.SetDefault("queue.wait_time", "0s")
	v.SetDefault("outbound.driver", "sqs")
	v.SetDefault("outbound.source", "DAPP")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "transaction_events")
	v.SetDefault("rabbitmq.routing_key", "transaction.status.updated")
	v.SetDefault("consumer.poll_interval", "5s")
	v.SetDefault("consumer.batch_size", 10)
	v.SetDefault("consumer.verify_source", false)
	v.SetDefault("consumer.required_scope", "transaction:admin")
	v.SetDefault("processor.poll_interval", "5s")
	v.SetDefault("processor.batch_size", 10)
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.distribution_private_key", "")
	v.SetDefault("solana.commitment", "finalized")
	v.SetDefault("solana.mints", map[string]any{
		"eurc": map[string]any{"address": "HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr", "decimals": 6},
		"usdc": map[string]any{"address": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "decimals": 6},
	})
	v.SetDefault("identity.base_url", "")
	v.SetDefault("identity.access_key", "")
	v.SetDefault("identity.secret_key", "")
	v.SetDefault("identity.timeout", "10s")
	v.SetDefault("metrics.addr", ":9090")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// PAYOUT_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PAYOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Solana.Mints = normalizeMints(cfg.Solana.Mints)

	if cfg.Consumer.BatchSize < 1 || cfg.Consumer.BatchSize > 10 {
		return nil, fmt.Errorf("consumer.batch_size must be between 1 and 10, got %d", cfg.Consumer.BatchSize)
	}
	if cfg.Processor.BatchSize < 1 {
		return nil, fmt.Errorf("processor.batch_size must be positive, got %d", cfg.Processor.BatchSize)
	}

	return &cfg, nil
}

// viper lower-cases map keys; currency codes are upper case everywhere else.
func normalizeMints(in map[string]MintConfig) map[string]MintConfig {
	out := make(map[string]MintConfig, len(in))
	for code, m := range in {
		out[strings.ToUpper(code)] = m
	}
	return out
}
