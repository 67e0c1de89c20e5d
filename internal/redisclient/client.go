// Package redisclient creates the go-redis client shared by queues and locks.
package redisclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storepilot/sync-orchestrator/internal/config"
)

const pingTimeout = 5 * time.Second

// NewClient connects to the Redis server of cfg and verifies it with a ping.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis configuration is required")
	}
	password, err := cfg.GetPassword()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Address, err)
	}

	slog.Info("Connected to redis", "address", cfg.Address, "db", cfg.DB)
	return client, nil
}
