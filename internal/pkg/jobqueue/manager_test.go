package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartStopIsRepeatable(t *testing.T) {
	client, _ := newRedisClient(t)
	m := NewManager(NewQueue(client, testConfig()))

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	assert.True(t, m.GetQueue().IsRunning())

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
	assert.False(t, m.GetQueue().IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
}

func TestManager_PromotesRetriedJobs(t *testing.T) {
	client, _ := newRedisClient(t)
	cfg := testConfig()
	cfg.RetryBase = 20 * time.Millisecond
	cfg.PromoteInterval = 10 * time.Millisecond
	q := NewQueue(client, cfg)

	var attempts atomic.Int32
	done := make(chan struct{})
	q.RegisterProcessor(JobTypeGeneration, processorFunc(func(ctx context.Context, job *Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}))

	m := NewManager(q)
	m.Start()
	defer m.Stop()

	_, _, err := q.Enqueue(context.Background(), JobTypeGeneration, "flaky", nil, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not retried, attempts=%d", attempts.Load())
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestProgressCache(t *testing.T) {
	client, mr := newRedisClient(t)
	cache := NewProgressCache(client)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "job-1", ProgressGenerated))
	percent, ok, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 80, percent)
	assert.Equal(t, ProgressTTL, mr.TTL("generation:progress:job-1"))
}
