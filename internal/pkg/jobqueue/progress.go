package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key format for generation progress
const (
	ProgressKeyFormat = "generation:progress:%s" // Format: generation:progress:<job id>
	ProgressTTL       = 24 * time.Hour
)

// Progress checkpoints reported while a job runs.
const (
	ProgressStarted     = 10
	ProgressPromptReady = 30
	ProgressGenerated   = 80
	ProgressFinished    = 100
)

// ProgressCache mirrors job progress in Redis so clients can poll cheaply.
type ProgressCache struct {
	client *redis.Client
}

func NewProgressCache(client *redis.Client) *ProgressCache {
	return &ProgressCache{client: client}
}

// Set stores the progress percentage of a job.
func (p *ProgressCache) Set(ctx context.Context, jobID string, percent int) error {
	return p.client.Set(ctx, fmt.Sprintf(ProgressKeyFormat, jobID), percent, ProgressTTL).Err()
}

// Get returns the cached progress. ok is false when nothing is cached.
func (p *ProgressCache) Get(ctx context.Context, jobID string) (percent int, ok bool, err error) {
	raw, err := p.client.Get(ctx, fmt.Sprintf(ProgressKeyFormat, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	percent, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return percent, true, nil
}
