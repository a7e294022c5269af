package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeGeneration JobType = "generation"
)

// JobStatus defines the status of a queue entry. It tracks delivery only;
// the business state of a generation lives on the database row.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a queued unit of work
type Job struct {
	ID            string                 `json:"id"`
	Type          JobType                `json:"type"`
	Status        JobStatus              `json:"status"`
	Priority      int                    `json:"priority"`
	Payload       map[string]interface{} `json:"payload"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ProcessedAt   *time.Time             `json:"processed_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	NextAttemptAt *time.Time             `json:"next_attempt_at,omitempty"`
	ErrorMsg      string                 `json:"error_msg,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
	// ClaimToken identifies the worker attempt currently holding the job.
	ClaimToken string `json:"claim_token,omitempty"`
	// Resumable is set once an earlier attempt is known to have ended,
	// either by returning or by losing its claim.
	Resumable bool `json:"resumable,omitempty"`
}

// GenerationJobPayload identifies the generation row a queue entry drives.
type GenerationJobPayload struct {
	JobID     string `json:"job_id"`
	TenantID  uint   `json:"tenant_id"`
	AppUserID uint   `json:"app_user_id"`
}

// ToMap converts the payload to a map for storage
func (p GenerationJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"job_id":      p.JobID,
		"tenant_id":   p.TenantID,
		"app_user_id": p.AppUserID,
	}
}

// GenerationJobPayloadFromMap creates a payload from a map
func GenerationJobPayloadFromMap(data map[string]interface{}) (*GenerationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload GenerationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.NextAttemptAt = nil
	j.ErrorMsg = ""
}

// MarkAsFailed records a failed attempt
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying schedules the next attempt
func (j *Job) MarkAsRetrying(at time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
	j.NextAttemptAt = &at
}

// BackoffDelay returns base * 2^(retry-1), capped at max.
func BackoffDelay(base, max time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// pendingScore orders the pending set: higher priority first, then FIFO.
func pendingScore(priority int, enqueuedAt time.Time) float64 {
	const prioritySpan = 1e13 // larger than any unix millisecond timestamp
	return float64(-priority)*prioritySpan + float64(enqueuedAt.UnixMilli())
}
