package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Machine error codes stored on failed jobs.
const (
	JobErrorInsufficientTokens = "insufficient_tokens"
	JobErrorUserNotFound       = "user_not_found"
	JobErrorAllProvidersFailed = "all_providers_failed"
	JobErrorNoProviders        = "no_providers"
	JobErrorStorage            = "storage_failed"
	JobErrorEnqueue            = "enqueue_failed"
	JobErrorInternal           = "internal_error"
	JobErrorInvalidInput       = "invalid_input"
	JobErrorCancelled          = "cancelled"
)

// GenerationInput is the user-supplied request payload.
type GenerationInput struct {
	Prompt          string            `json:"prompt"`
	PromptVariables map[string]string `json:"prompt_variables,omitempty"`
	ImageURLs       []string          `json:"image_urls,omitempty"`
	AspectRatio     string            `json:"aspect_ratio,omitempty"`
	OutputCount     int               `json:"output_count"`
}

// GenerationJob is one user-submitted generation request.
type GenerationJob struct {
	ID             string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID       uint                                `gorm:"not null;index" json:"tenant_id"`
	AppUserID      uint                                `gorm:"not null;index" json:"app_user_id"`
	ModelKey       string                              `gorm:"type:varchar(100);not null;index" json:"model"`
	Input          datatypes.JSONType[GenerationInput] `json:"input"`
	Status         JobStatus                           `gorm:"type:varchar(20);not null;default:'queued';index" json:"status"`
	Priority       int                                 `gorm:"default:0" json:"priority"`
	TokenCost      int64                               `gorm:"not null;default:0" json:"token_cost"`
	TokensCharged  bool                                `gorm:"default:false" json:"tokens_charged"`
	TokensRefunded bool                                `gorm:"default:false" json:"tokens_refunded"`
	AttemptsCount  int                                 `gorm:"default:0" json:"attempts_count"`
	UsedProvider   string                              `gorm:"type:varchar(50);default:''" json:"used_provider,omitempty"`
	Progress       int                                 `gorm:"default:0" json:"progress"`
	ErrorMessage   string                              `gorm:"type:text" json:"error_message,omitempty"`
	ErrorCode      string                              `gorm:"type:varchar(50);default:''" json:"error_code,omitempty"`
	Outputs        []JobOutput                         `gorm:"foreignKey:JobID;references:ID" json:"outputs"`
	CreatedAt      time.Time                           `gorm:"autoCreateTime;index" json:"created_at"`
	StartedAt      *time.Time                          `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	CompletedAt    *time.Time                          `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	UpdatedAt      time.Time                           `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobOutput is one persisted generation result.
type JobOutput struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	JobID     string    `gorm:"type:varchar(36);not null;index:ux_job_outputs_job_index,unique,priority:1" json:"-"`
	Index     int       `gorm:"column:output_index;not null;index:ux_job_outputs_job_index,unique,priority:2" json:"index"`
	URL       string    `gorm:"type:text;not null" json:"url"`
	SourceURL string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
