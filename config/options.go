package config

import (
	"fmt"
	"os"
	"time"

	"github.com/GoDuraStore/go-dura-store/env"
	"github.com/GoDuraStore/go-dura-store/events"
	"github.com/GoDuraStore/go-dura-store/models"
)

type ConfigOption func(*models.Config)

// NewConfig builds a Config using functional options with sensible defaults.
// Panics if the event bus or store configuration is invalid.
func NewConfig(options ...ConfigOption) *models.Config {
	// Define sensible defaults first
	config := &models.Config{
		AppName: "GoDuraStore",
		Database: models.DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Minute * 10,
		},
		Logger: models.LoggerConfig{},
		Store: models.StoreConfig{
			ExpiryMode:          models.ExpiryModeFixed,
			DefaultTTL:          time.Hour,
			MaxCapacity:         0, // admission control off unless set
			EvictionTargetRatio: 0.9,
		},
		Reclaim: models.ReclaimConfig{
			BatchSize:    400,
			SoonInterval: time.Second,
			IdleInterval: time.Hour,
			RetryBackoff: 5 * time.Minute,
		},
		RateLimit: models.RateLimitConfig{
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
		},
		Archive: models.ArchiveConfig{},
		Actors: models.ActorConfig{
			ShardCount:  32,
			MailboxSize: 64,
			IdleTimeout: 10 * time.Minute,
		},
		EventBus:   models.EventBusConfig{},
		Namespaces: make(map[string]map[string]any),
	}

	// Apply the options - they override defaults only if non-zero/non-empty
	for _, option := range options {
		option(config)
	}

	if err := validateStoreConfig(&config.Store); err != nil {
		panic(fmt.Errorf("invalid store configuration: %w", err))
	}

	if err := validateReclaimConfig(&config.Reclaim); err != nil {
		panic(fmt.Errorf("invalid reclaim configuration: %w", err))
	}

	if err := validateEventBusConfig(&config.EventBus); err != nil {
		panic(fmt.Errorf("invalid event bus configuration: %w", err))
	}

	return config
}

func WithAppName(name string) ConfigOption {
	return func(c *models.Config) {
		if name != "" {
			c.AppName = name
		}
	}
}

func WithDatabase(config models.DatabaseConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Provider != "" {
			c.Database.Provider = config.Provider
		}
		if envValue := os.Getenv(env.EnvDatabaseURL); envValue != "" {
			c.Database.URL = envValue
		} else if config.URL != "" {
			c.Database.URL = config.URL
		}
		if config.MaxOpenConns != 0 {
			c.Database.MaxOpenConns = config.MaxOpenConns
		}
		if config.MaxIdleConns != 0 {
			c.Database.MaxIdleConns = config.MaxIdleConns
		}
		if config.ConnMaxLifetime != 0 {
			c.Database.ConnMaxLifetime = config.ConnMaxLifetime
		}
	}
}

func WithLogger(config models.LoggerConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Level != "" {
			c.Logger.Level = config.Level
		}
	}
}

func WithStore(config models.StoreConfig) ConfigOption {
	return func(c *models.Config) {
		if config.ExpiryMode != "" {
			c.Store.ExpiryMode = config.ExpiryMode
		}
		if config.DefaultTTL != 0 {
			c.Store.DefaultTTL = config.DefaultTTL
		}
		if config.MaxCapacity != 0 {
			c.Store.MaxCapacity = config.MaxCapacity
		}
		if config.EvictionTargetRatio != 0 {
			c.Store.EvictionTargetRatio = config.EvictionTargetRatio
		}
	}
}

func WithReclaim(config models.ReclaimConfig) ConfigOption {
	return func(c *models.Config) {
		if config.BatchSize != 0 {
			c.Reclaim.BatchSize = config.BatchSize
		}
		if config.SoonInterval != 0 {
			c.Reclaim.SoonInterval = config.SoonInterval
		}
		if config.IdleInterval != 0 {
			c.Reclaim.IdleInterval = config.IdleInterval
		}
		if config.RetryBackoff != 0 {
			c.Reclaim.RetryBackoff = config.RetryBackoff
		}
	}
}

func WithRateLimit(config models.RateLimitConfig) ConfigOption {
	return func(c *models.Config) {
		if config.DefaultLimit != 0 {
			c.RateLimit.DefaultLimit = config.DefaultLimit
		}
		if config.DefaultWindow != 0 {
			c.RateLimit.DefaultWindow = config.DefaultWindow
		}
	}
}

func WithArchive(config models.ArchiveConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Provider != "" {
			c.Archive.Provider = config.Provider
		}
		if envValue := os.Getenv(env.EnvArchiveDir); envValue != "" {
			c.Archive.Dir = envValue
		} else if config.Dir != "" {
			c.Archive.Dir = config.Dir
		}
		if config.Redis != nil {
			c.Archive.Redis = config.Redis
		}
		if config.TTL != 0 {
			c.Archive.TTL = config.TTL
		}
	}
}

func WithActors(config models.ActorConfig) ConfigOption {
	return func(c *models.Config) {
		if config.ShardCount != 0 {
			c.Actors.ShardCount = config.ShardCount
		}
		if config.MailboxSize != 0 {
			c.Actors.MailboxSize = config.MailboxSize
		}
		if config.IdleTimeout != 0 {
			c.Actors.IdleTimeout = config.IdleTimeout
		}
	}
}

func WithEventBus(config models.EventBusConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Prefix != "" {
			c.EventBus.Prefix = config.Prefix
		}
		if config.MaxConcurrentHandlers != 0 {
			c.EventBus.MaxConcurrentHandlers = config.MaxConcurrentHandlers
		}
		if config.Provider != "" {
			c.EventBus.Provider = config.Provider
		}
		if config.GoChannel != nil {
			c.EventBus.GoChannel = config.GoChannel
		}
		if config.SQLite != nil {
			c.EventBus.SQLite = config.SQLite
		}
		if config.PostgreSQL != nil {
			c.EventBus.PostgreSQL = config.PostgreSQL
		}
		if config.Redis != nil {
			c.EventBus.Redis = config.Redis
		}
		if config.Kafka != nil {
			c.EventBus.Kafka = config.Kafka
		}
		if config.NATS != nil {
			c.EventBus.NATS = config.NATS
		}
		if config.RabbitMQ != nil {
			c.EventBus.RabbitMQ = config.RabbitMQ
		}
	}
}

// WithNamespace registers a raw per-namespace option map. Decoded into a
// StoreConfig override at bootstrap.
func WithNamespace(name string, options map[string]any) ConfigOption {
	return func(c *models.Config) {
		if name == "" {
			return
		}
		if c.Namespaces == nil {
			c.Namespaces = make(map[string]map[string]any)
		}
		c.Namespaces[name] = options
	}
}

func validateStoreConfig(config *models.StoreConfig) error {
	if !config.ExpiryMode.Valid() {
		return fmt.Errorf("unknown expiry mode: %q", config.ExpiryMode)
	}
	if config.MaxCapacity < 0 {
		return fmt.Errorf("max capacity must not be negative, got %d", config.MaxCapacity)
	}
	if config.EvictionTargetRatio <= 0 || config.EvictionTargetRatio >= 1 {
		return fmt.Errorf("eviction target ratio must be in (0, 1), got %v", config.EvictionTargetRatio)
	}
	return nil
}

func validateReclaimConfig(config *models.ReclaimConfig) error {
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.SoonInterval <= 0 || config.IdleInterval <= 0 || config.RetryBackoff <= 0 {
		return fmt.Errorf("reclaim intervals must be positive")
	}
	if config.SoonInterval > config.IdleInterval {
		return fmt.Errorf("soon interval must not exceed idle interval")
	}
	return nil
}

func validateEventBusConfig(config *models.EventBusConfig) error {
	if config.Provider == "" {
		return nil
	}
	provider := events.EventBusProvider(config.Provider)
	if !provider.Valid() {
		return fmt.Errorf("unknown event bus provider: %q", config.Provider)
	}
	return nil
}
