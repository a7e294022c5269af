package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// GenerationJobRepository defines the database operations on generation jobs.
// Status changes are conditional updates; the bool results report whether
// the row was in the expected state.
type GenerationJobRepository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	GetForTenant(ctx context.Context, tenantID uint, id string) (*models.GenerationJob, error)
	ListByUser(ctx context.Context, appUserID uint, offset, limit int) ([]models.GenerationJob, error)
	MarkCharged(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, percent int) error
	MarkSucceeded(ctx context.Context, id, provider string, attempts int, outputs []models.JobOutput) (bool, error)
	MarkFailed(ctx context.Context, id, message, code string, attempts int) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	ClaimRefund(ctx context.Context, id string) (bool, error)
	ReleaseRefund(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// ProviderConfigRepository reads the provider mappings of logical models.
type ProviderConfigRepository interface {
	EnabledConfigs(ctx context.Context, modelKey string) ([]models.ProviderConfig, error)
	ProviderEnabled(ctx context.Context, providerKey string) (bool, error)
	ListProviders(ctx context.Context) ([]models.Provider, error)
}

// UsageLogRepository stores provider attempt rows.
type UsageLogRepository interface {
	RecordUsage(ctx context.Context, entry *models.ProviderUsageLog) error
	ListByJob(ctx context.Context, jobID string) ([]models.ProviderUsageLog, error)
}

// TenantRepository resolves tenants.
type TenantRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Tenant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
}

// AppUserRepository resolves the end users of a tenant.
type AppUserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.AppUser, error)
	GetByExternalID(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, error)
	FirstOrCreate(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, bool, error)
}

// ModelPricingRepository reads token prices of logical models.
type ModelPricingRepository interface {
	GetActive(ctx context.Context, modelKey string) (*models.ModelPricing, error)
}

// QueueRepository defines the interface for cache/queue operations
type QueueRepository interface {
	GetValue(ctx context.Context, key string) (string, error)
	GetTTL(ctx context.Context, key string) (time.Duration, error)
	GetSortedSetLength(ctx context.Context, key string) (int64, error)
	FindKeysByPatterns(ctx context.Context, patterns []string) ([]string, error)
	DeleteKeys(ctx context.Context, keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Job            GenerationJobRepository
	ProviderConfig ProviderConfigRepository
	UsageLog       UsageLogRepository
	Tenant         TenantRepository
	AppUser        AppUserRepository
	Pricing        ModelPricingRepository
	Queue          QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB, client *redis.Client) *Repositories {
	return &Repositories{
		Job:            NewGenerationJobRepository(db),
		ProviderConfig: NewProviderConfigRepository(db),
		UsageLog:       NewUsageLogRepository(db),
		Tenant:         NewTenantRepository(db),
		AppUser:        NewAppUserRepository(db),
		Pricing:        NewModelPricingRepository(db),
		Queue:          NewQueueRepository(client),
	}
}
