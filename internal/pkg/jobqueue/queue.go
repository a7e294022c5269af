package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
	"github.com/ManuelReschke/GenFox/internal/pkg/ratelimit"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobStatsKey      = "job_stats"

	// FleetRateKey is the sliding window shared by every worker process.
	FleetRateKey = "rl:fleet:workers"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Failed jobs expire after 24 hours; live jobs never do
)

// ErrPermanent marks a processing error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the queue fails the job without retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Processor handles jobs of one type. A returned error is treated as an
// infrastructure failure and retried with backoff.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// FailureHandler is implemented by processors that need to react once a job
// has used up its retries.
type FailureHandler interface {
	HandleFailure(ctx context.Context, job *Job, err error)
}

// Config controls worker concurrency, throttling and retry policy.
type Config struct {
	Workers         int
	RatePerSecond   float64
	FleetRateLimit  int
	FleetRateWindow time.Duration
	MaxRetries      int
	RetryBase       time.Duration
	RetryMax        time.Duration
	StuckAfter      time.Duration
	// LeaseRefresh is how often a running job renews its claim. It must stay
	// well below StuckAfter.
	LeaseRefresh    time.Duration
	SweepInterval   time.Duration
	PromoteInterval time.Duration
	IdleWait        time.Duration
}

// LoadConfig reads queue settings from the environment.
func LoadConfig() Config {
	return Config{
		Workers:         env.GetEnvInt("WORKER_COUNT", 5),
		RatePerSecond:   env.GetEnvFloat("WORKER_RATE_PER_SECOND", 10),
		FleetRateLimit:  env.GetEnvInt("FLEET_RATE_LIMIT", 0),
		FleetRateWindow: env.GetEnvSeconds("FLEET_RATE_WINDOW_SECONDS", time.Minute),
		MaxRetries:      env.GetEnvInt("JOB_MAX_RETRIES", DefaultMaxRetries),
		RetryBase:       env.GetEnvSeconds("JOB_RETRY_BASE_SECONDS", 30*time.Second),
		RetryMax:        env.GetEnvSeconds("JOB_RETRY_MAX_SECONDS", 15*time.Minute),
		StuckAfter:      env.GetEnvSeconds("JOB_STUCK_AFTER_SECONDS", 5*time.Minute),
		LeaseRefresh:    env.GetEnvSeconds("JOB_LEASE_REFRESH_SECONDS", 30*time.Second),
		SweepInterval:   time.Minute,
		PromoteInterval: time.Second,
		IdleWait:        time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3 // Default number of workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.FleetRateWindow <= 0 {
		c.FleetRateWindow = time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 20 * time.Minute
	}
	if c.LeaseRefresh <= 0 || c.LeaseRefresh > c.StuckAfter/3 {
		c.LeaseRefresh = c.StuckAfter / 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = time.Second
	}
	return c
}

// claimScript pops the best pending job and records it as processing in one step.
var claimScript = redis.NewScript(`
local item = redis.call('ZPOPMIN', KEYS[1])
if #item == 0 then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], item[1])
return item[1]
`)

// leaseScript re-scores a claimed job with the current time. It returns 0 when
// the job is no longer in the processing set.
var leaseScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// expireClaimScript removes a claim only if it was last renewed at or before the cutoff.
var expireClaimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	cfg        Config
	fleet      *ratelimit.Limiter
	local      *rate.Limiter
	processors map[JobType]Processor
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	now        func() time.Time
}

// NewQueue creates a job queue on an explicit Redis client.
func NewQueue(client *redis.Client, cfg Config) *Queue {
	cfg = cfg.withDefaults()

	q := &Queue{
		client:     client,
		cfg:        cfg,
		processors: make(map[JobType]Processor),
		workers:    cfg.Workers,
		workerPool: make(chan struct{}, cfg.Workers),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
	if cfg.FleetRateLimit > 0 {
		q.fleet = ratelimit.NewLimiter(client)
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		q.local = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return q
}

// WithClock overrides the time source used for scores and retry schedules.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// RegisterProcessor sets the handler for a job type.
func (q *Queue) RegisterProcessor(jobType JobType, p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = p
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	// Initialize worker pool
	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	// Start workers
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Start stuck-processing sweeper (recovers jobs stuck in processing due to crashes)
	q.wg.Add(1)
	go q.stuckSweeper(q.cfg.StuckAfter, q.cfg.SweepInterval)
}

// Stop stops the job queue workers. In-flight jobs run to completion.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()

	// Drain the pool so a later Start refills it from empty.
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning reports whether workers are active.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Enqueue stores a job under a caller-chosen id. Enqueueing an id that is
// already queued is a no-op and returns the stored job with created=false.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, id string, payload map[string]interface{}, priority int) (*Job, bool, error) {
	now := q.now()
	job := &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobStatusPending,
		Priority:   priority,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: q.cfg.MaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID
	created, err := q.client.SetNX(ctx, jobKey, jobData, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to store job %s: %w", id, err)
	}
	if !created {
		existing, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing job %s: %w", id, err)
		}
		log.Debugf("[JobQueue] Job %s already enqueued, skipping", id)
		return existing, false, nil
	}

	pipe := q.client.TxPipeline()
	pipe.ZAddNX(ctx, JobQueueKey, redis.Z{Score: pendingScore(priority, now), Member: job.ID})
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		// Leave no orphaned job data behind so the caller can retry the enqueue.
		_ = q.client.Del(ctx, jobKey).Err()
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s, Priority: %d)", job.ID, job.Type, priority)
	return job, true, nil
}

// RemovePending deletes a job that has not been claimed yet. It reports
// whether the job was still pending.
func (q *Queue) RemovePending(ctx context.Context, jobID string) (bool, error) {
	removed, err := q.client.ZRem(ctx, JobQueueKey, jobID).Result()
	if err != nil {
		return false, err
	}
	delayed, err := q.client.ZRem(ctx, JobDelayedKey, jobID).Result()
	if err != nil {
		return false, err
	}
	if removed+delayed == 0 {
		return false, nil
	}
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Warnf("[JobQueue] Failed to delete data of removed job %s: %v", jobID, err)
	}
	q.updateJobStats(ctx, JobStatusPending, -removed)
	q.updateJobStats(ctx, JobStatusRetrying, -delayed)
	return true, nil
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		case <-q.workerPool:
		}

		if !q.waitLocal() {
			q.workerPool <- struct{}{}
			continue
		}

		job, err := q.dequeueJob(ctx)
		if err != nil || job == nil {
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			}
			q.workerPool <- struct{}{}
			q.idle(q.cfg.IdleWait)
			continue
		}

		if wait, ok := q.admitFleet(ctx); !ok {
			log.Debugf("[JobQueue] Worker %d: fleet rate cap reached, returning job %s", id, job.ID)
			q.release(ctx, job)
			q.workerPool <- struct{}{}
			q.idle(wait)
			continue
		}

		log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)

		// Release worker slot
		q.workerPool <- struct{}{}
	}
}

// waitLocal blocks on the per-process token bucket. It returns false when the
// queue is stopping.
func (q *Queue) waitLocal() bool {
	if q.local == nil {
		return true
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-q.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return q.local.Wait(ctx) == nil
}

// admitFleet consults the sliding window shared by all worker processes.
func (q *Queue) admitFleet(ctx context.Context) (time.Duration, bool) {
	if q.fleet == nil {
		return 0, true
	}
	res := q.fleet.CheckLimit(ctx, FleetRateKey, q.cfg.FleetRateLimit, q.cfg.FleetRateWindow)
	if res.Allowed {
		return 0, true
	}
	wait := res.RetryAfter
	if wait > q.cfg.IdleWait {
		wait = q.cfg.IdleWait
	}
	return wait, false
}

func (q *Queue) idle(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-q.stopCh:
	case <-t.C:
	}
}

// dequeueJob atomically claims the next pending job. It returns (nil, nil)
// when the queue is empty.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	claimedAt := q.now().UnixMilli()
	res, err := claimScript.Run(ctx, q.client, []string{JobQueueKey, JobProcessingKey}, claimedAt).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected claim result %T", res)
	}
	q.updateJobStats(ctx, JobStatusPending, -1)

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		// Job data not found, remove from processing queue
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

// release hands a claimed job back to the pending set with its original ordering.
func (q *Queue) release(ctx context.Context, job *Job) {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, JobProcessingKey, job.ID)
	pipe.ZAdd(ctx, JobQueueKey, redis.Z{Score: pendingScore(job.Priority, job.CreatedAt), Member: job.ID})
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to release job %s: %v", job.ID, err)
	}
}

// processJob processes a single job. The claim is renewed while the
// processor runs, and the outcome is only recorded while this worker still
// holds it.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.ClaimToken = uuid.NewString()
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	q.mu.Lock()
	processor, ok := q.processors[job.Type]
	q.mu.Unlock()

	var err error
	if !ok {
		err = Permanent(fmt.Errorf("unknown job type: %s", job.Type))
	} else {
		stopLease := q.holdLease(job.ID)
		err = q.safeProcess(ctx, processor, job)
		stopLease()
	}

	if !q.ownsClaim(ctx, job) {
		log.Warnf("[JobQueue] Job %s was recovered by another worker, leaving its queue state alone", job.ID)
		return
	}

	if err == nil {
		log.Infof("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeFromProcessing(ctx, job.ID)
		// Remove completed job from Redis entirely
		q.removeCompletedJob(ctx, job.ID)
		return
	}

	log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
	job.MarkAsFailed(err.Error())

	if !errors.Is(err, ErrPermanent) && job.IsRetryable() {
		delay := BackoffDelay(q.cfg.RetryBase, q.cfg.RetryMax, job.RetryCount)
		readyAt := q.now().Add(delay)
		log.Infof("[JobQueue] Retrying job %s in %s (Attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
		job.MarkAsRetrying(readyAt)
		job.Resumable = true
		q.updateJob(ctx, job)

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, JobProcessingKey, job.ID)
		pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
		pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusRetrying), 1)
		if _, perr := pipe.Exec(ctx); perr != nil {
			log.Errorf("[JobQueue] Failed to schedule retry of job %s: %v", job.ID, perr)
		}
		return
	}

	log.Errorf("[JobQueue] Job %s permanently failed after %d attempt(s)", job.ID, job.RetryCount)
	q.updateJob(ctx, job)
	q.updateJobStats(ctx, JobStatusFailed, 1)
	q.removeFromProcessing(ctx, job.ID)
	if fh, ok := processor.(FailureHandler); ok {
		fh.HandleFailure(ctx, job, err)
	}
}

// holdLease renews the claim on jobID every LeaseRefresh until stop is called.
func (q *Queue) holdLease(jobID string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.cfg.LeaseRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := q.RenewLease(context.Background(), jobID)
				if err != nil {
					log.Warnf("[JobQueue] Failed to renew claim on job %s: %v", jobID, err)
				} else if !held {
					log.Warnf("[JobQueue] Claim on job %s was lost", jobID)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// RenewLease marks a claimed job as alive. It reports false when the job is
// no longer claimed.
func (q *Queue) RenewLease(ctx context.Context, jobID string) (bool, error) {
	n, err := leaseScript.Run(ctx, q.client, []string{JobProcessingKey}, q.now().UnixMilli(), jobID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ownsClaim reports whether the stored job still carries this worker's claim token.
func (q *Queue) ownsClaim(ctx context.Context, job *Job) bool {
	stored, err := q.GetJob(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Errorf("[JobQueue] Failed to check claim on job %s: %v", job.ID, err)
		}
		return false
	}
	return stored.ClaimToken == job.ClaimToken
}

func (q *Queue) safeProcess(ctx context.Context, p Processor, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p.Process(ctx, job)
}

// PromoteDue moves delayed jobs whose retry time has come back to pending,
// keeping their original priority. ZREM decides the winner when several
// processes promote at once.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		q.updateJobStats(ctx, JobStatusRetrying, -1)

		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dropping delayed job %s without data: %v", id, err)
			continue
		}
		job.Status = JobStatusPending
		job.UpdatedAt = now
		q.updateJob(ctx, job)

		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, JobQueueKey, redis.Z{Score: pendingScore(job.Priority, job.CreatedAt), Member: id})
		pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("requeue delayed job %s: %w", id, err)
		}
		promoted++
	}
	if promoted > 0 {
		log.Debugf("[JobQueue] Promoted %d delayed job(s)", promoted)
	}
	return promoted, nil
}

// stuckSweeper periodically scans the processing set and requeues jobs whose claim was not renewed for maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			if _, err := q.SweepStuck(ctx, maxAge); err != nil {
				log.Errorf("[JobQueue] Sweeper error: %v", err)
			}
		}
	}
}

// SweepStuck requeues jobs claimed more than maxAge ago. The recovery counts
// as an attempt so a job that keeps crashing its worker eventually stops.
func (q *Queue) SweepStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := q.now().Add(-maxAge).UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, JobProcessingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		// The worker may have renewed the claim since the scan.
		expired, err := expireClaimScript.Run(ctx, q.client, []string{JobProcessingKey}, id, cutoff).Int()
		if err != nil {
			return recovered, err
		}
		if expired == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper Get error for %s: %v", id, err)
			}
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s)", job.ID, job.Type)
		job.MarkAsFailed("recovered by sweeper")
		job.ClaimToken = ""
		job.Resumable = true
		if !job.IsRetryable() {
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
			q.removeFromProcessing(ctx, id)
			q.mu.Lock()
			processor := q.processors[job.Type]
			q.mu.Unlock()
			if fh, ok := processor.(FailureHandler); ok {
				fh.HandleFailure(ctx, job, errors.New("worker did not finish the job"))
			}
			continue
		}

		job.Status = JobStatusPending
		job.UpdatedAt = q.now()
		q.updateJob(ctx, job)
		q.release(ctx, job)
		recovered++
	}
	return recovered, nil
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	ttl := time.Duration(0)
	if job.Status == JobStatusFailed {
		ttl = JobTTL
	}
	jobKey := JobKeyPrefix + job.ID
	if err := q.client.Set(ctx, jobKey, jobData, ttl).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing set
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.ZRem(ctx, JobProcessingKey, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	jobKey := JobKeyPrefix + jobID
	if err := q.client.Del(ctx, jobKey).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	} else {
		log.Debugf("[JobQueue] Successfully removed completed job %s from Redis", jobID)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if delta == 0 {
		return
	}
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobKey := JobKeyPrefix + jobID
	jobData, err := q.client.Get(ctx, jobKey).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
