package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/GenFox/internal/pkg/cache"
	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// LimiterConfig is the coarse per-IP throttle in front of the whole /api group.
// Tenant and user admission limits are applied separately on submit.
type LimiterConfig struct {
	Max        int
	Expiration time.Duration
	// Storage shares counters between API instances. Nil keeps them in memory.
	Storage fiber.Storage
}

// LoadLimiterConfig reads API_RATE_LIMIT_MAX and API_RATE_LIMIT_WINDOW_SECONDS.
func LoadLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Max:        env.GetEnvInt("API_RATE_LIMIT_MAX", 120),
		Expiration: env.GetEnvSeconds("API_RATE_LIMIT_WINDOW_SECONDS", time.Minute),
	}
}

// NewLimiterStorage opens the Redis storage used by the limiter middleware on
// database 1, keeping its keys apart from the queue on database 0.
func NewLimiterStorage(cfg cache.Config) fiber.Storage {
	host, port := cfg.Host, 6379
	if h, p, err := net.SplitHostPort(cfg.Addr()); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: cfg.Password,
		Database: cfg.DB + 1,
		Reset:    false,
	})
}

func newLimiter(cfg LimiterConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		Storage:    cfg.Storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})
}
