package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoDuraStore/go-dura-store/env"
	"github.com/GoDuraStore/go-dura-store/models"
)

// RedisSink stores each batch under its batch id with SETNX, making a
// duplicate write after a crash a no-op.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	logger models.Logger
}

func NewRedisSink(config models.ArchiveConfig, logger models.Logger) (*RedisSink, error) {
	url := os.Getenv(env.EnvRedisURL)
	if url == "" {
		if config.Redis == nil || config.Redis.URL == "" {
			return nil, fmt.Errorf("redis URL must be provided for the redis archive sink")
		}
		url = config.Redis.URL
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.MaxRetries = 3
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", url, err)
	}

	return &RedisSink{
		client: client,
		ttl:    config.TTL,
		logger: logger,
	}, nil
}

func (s *RedisSink) Archive(ctx context.Context, batch *models.ArchiveBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal archive batch: %w", err)
	}

	key := "archive:" + batch.BatchID
	set, err := s.client.SetNX(ctx, key, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis archive write error: %w", err)
	}
	if !set {
		// Same batch id already archived by a previous attempt.
		s.logger.Debug("archive batch already present, skipping",
			"batch_id", batch.BatchID)
	}

	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
