package orchestrator

import (
	"time"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// Config tunes the poll loop used for pollable providers. The not-found
// retries absorb provider-side registration lag right after a submit.
type Config struct {
	PollGraceDelay  time.Duration
	PollInterval    time.Duration
	MaxPolls        int
	NotFoundRetries int
	PollTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollGraceDelay:  3 * time.Second,
		PollInterval:    5 * time.Second,
		MaxPolls:        120,
		NotFoundRetries: 3,
		PollTimeout:     10 * time.Minute,
	}
}

// LoadConfig reads the POLL_* settings, keeping defaults for unset values.
func LoadConfig() Config {
	d := DefaultConfig()
	return Config{
		PollGraceDelay:  env.GetEnvSeconds("POLL_GRACE_SECONDS", d.PollGraceDelay),
		PollInterval:    env.GetEnvSeconds("POLL_INTERVAL_SECONDS", d.PollInterval),
		MaxPolls:        env.GetEnvInt("POLL_MAX_ATTEMPTS", d.MaxPolls),
		NotFoundRetries: env.GetEnvInt("POLL_NOT_FOUND_RETRIES", d.NotFoundRetries),
		PollTimeout:     env.GetEnvSeconds("POLL_TIMEOUT_SECONDS", d.PollTimeout),
	}
}
