package models

import (
	"time"
)

// Config holds the core configuration for GoDuraStore.
type Config struct {
	AppName   string          `json:"app_name" toml:"app_name"`
	Database  DatabaseConfig  `json:"database" toml:"database"`
	Logger    LoggerConfig    `json:"logger" toml:"logger"`
	Store     StoreConfig     `json:"store" toml:"store"`
	Reclaim   ReclaimConfig   `json:"reclaim" toml:"reclaim"`
	RateLimit RateLimitConfig `json:"rate_limit" toml:"rate_limit"`
	Archive   ArchiveConfig   `json:"archive" toml:"archive"`
	Actors    ActorConfig     `json:"actors" toml:"actors"`
	EventBus  EventBusConfig  `json:"event_bus" toml:"event_bus"`
	// Namespaces stores raw per-namespace option maps supplied by the host
	// application. Decoded into StoreConfig overrides with mapstructure at
	// bootstrap so callers can pass plain maps from their own config files.
	Namespaces map[string]map[string]any `json:"namespaces" toml:"namespaces"`
}

type DatabaseConfig struct {
	Provider        string        `json:"provider" toml:"provider"`
	URL             string        `json:"url" toml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

type LoggerConfig struct {
	Level string `json:"level" toml:"level"`
}

// StoreConfig controls record-store behavior for a namespace of identities.
type StoreConfig struct {
	// ExpiryMode selects fixed (cache-style) or sliding (session-style)
	// expiry. Per store instance, not per call.
	ExpiryMode ExpiryMode `json:"expiry_mode" toml:"expiry_mode" mapstructure:"expiry_mode"`

	// DefaultTTL applies when a caller passes a zero TTL.
	DefaultTTL time.Duration `json:"default_ttl" toml:"default_ttl" mapstructure:"default_ttl"`

	// MaxCapacity bounds the number of live records per identity.
	// Zero disables admission control.
	MaxCapacity int `json:"max_capacity" toml:"max_capacity" mapstructure:"max_capacity"`

	// EvictionTargetRatio is the fraction of MaxCapacity the admission
	// controller evicts down to once the ceiling is crossed. The gap below
	// the ceiling keeps a single subsequent insert from re-triggering
	// eviction.
	EvictionTargetRatio float64 `json:"eviction_target_ratio" toml:"eviction_target_ratio" mapstructure:"eviction_target_ratio"`
}

// ReclaimConfig tunes the batch reclaimer and its scheduler cadence.
type ReclaimConfig struct {
	// BatchSize bounds how many expired records one wake may archive and
	// delete, keeping a single invocation well inside the actor's
	// per-invocation time budget.
	BatchSize int `json:"batch_size" toml:"batch_size"`

	// SoonInterval is the reschedule delay while a backlog remains.
	SoonInterval time.Duration `json:"soon_interval" toml:"soon_interval"`

	// IdleInterval is the reschedule delay after the backlog fully drained.
	IdleInterval time.Duration `json:"idle_interval" toml:"idle_interval"`

	// RetryBackoff is the reschedule delay after a failed reclamation pass.
	RetryBackoff time.Duration `json:"retry_backoff" toml:"retry_backoff"`
}

type RateLimitConfig struct {
	// DefaultLimit and DefaultWindow apply when a caller passes zeroes.
	DefaultLimit  int           `json:"default_limit" toml:"default_limit"`
	DefaultWindow time.Duration `json:"default_window" toml:"default_window"`
}

type ArchiveProviderType string

const (
	ArchiveProviderNone       ArchiveProviderType = ""
	ArchiveProviderFilesystem ArchiveProviderType = "filesystem"
	ArchiveProviderRedis      ArchiveProviderType = "redis"
)

// ArchiveConfig configures the optional cold-storage sink records are
// written to before deletion.
type ArchiveConfig struct {
	Provider ArchiveProviderType `json:"provider" toml:"provider"`
	// Dir is the target directory for the filesystem sink.
	Dir string `json:"dir" toml:"dir"`
	// Redis configures the redis sink.
	Redis *RedisConfig `json:"redis" toml:"redis"`
	// TTL bounds how long archived batches are retained by sinks that
	// support expiry (redis). Zero means keep forever.
	TTL time.Duration `json:"ttl" toml:"ttl"`
}

// ActorConfig tunes the per-identity actor host.
type ActorConfig struct {
	// ShardCount sets the number of registry shards the identity space is
	// hashed over.
	ShardCount int `json:"shard_count" toml:"shard_count"`

	// MailboxSize is the buffered capacity of each actor's mailbox.
	MailboxSize int `json:"mailbox_size" toml:"mailbox_size"`

	// IdleTimeout stops an actor's goroutine after this long without
	// traffic. Its persisted state, including any pending wake, survives
	// and is recovered on the next request or restart.
	IdleTimeout time.Duration `json:"idle_timeout" toml:"idle_timeout"`
}

type EventBusConfig struct {
	Prefix                string            `json:"prefix" toml:"prefix"`
	MaxConcurrentHandlers int               `json:"max_concurrent_handlers" toml:"max_concurrent_handlers"`
	Provider              string            `json:"provider" toml:"provider"`
	GoChannel             *GoChannelConfig  `json:"go_channel" toml:"go_channel"`
	SQLite                *SQLiteConfig     `json:"sqlite" toml:"sqlite"`
	PostgreSQL            *PostgreSQLConfig `json:"postgres" toml:"postgres"`
	Redis                 *RedisConfig      `json:"redis" toml:"redis"`
	Kafka                 *KafkaConfig      `json:"kafka" toml:"kafka"`
	NATS                  *NatsConfig       `json:"nats" toml:"nats"`
	RabbitMQ              *RabbitMQConfig   `json:"rabbitmq" toml:"rabbitmq"`
}

type GoChannelConfig struct {
	BufferSize int `json:"buffer_size" toml:"buffer_size"`
}

type SQLiteConfig struct {
	Path string `json:"path" toml:"path"`
}

type PostgreSQLConfig struct {
	URL           string `json:"url" toml:"url"`
	ConsumerGroup string `json:"consumer_group" toml:"consumer_group"`
}

type RedisConfig struct {
	URL           string `json:"url" toml:"url"`
	ConsumerGroup string `json:"consumer_group" toml:"consumer_group"`
}

type KafkaConfig struct {
	Brokers       []string `json:"brokers" toml:"brokers"`
	ConsumerGroup string   `json:"consumer_group" toml:"consumer_group"`
}

type NatsConfig struct {
	URL string `json:"url" toml:"url"`
}

type RabbitMQConfig struct {
	URL string `json:"url" toml:"url"`
}
