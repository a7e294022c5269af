package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// Config holds the Redis/Dragonfly connection settings.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// LoadConfig reads the cache settings from the environment.
func LoadConfig() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// NewClient opens a Redis connection handle. The process entry point owns the
// handle and closes it on shutdown. An unreachable server is logged, not fatal:
// the admission limiter fails open and the queue retries on its own.
func NewClient(ctx context.Context, cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Successfully connected to cache: %s", pong)
	}
	return client
}

// Close closes the handle, logging failures.
func Close(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Errorf("[Cache] Failed to close cache client: %v", err)
	}
}
