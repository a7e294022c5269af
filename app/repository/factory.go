package repository

import (
	"sync"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are created once
type Factory struct {
	db     *gorm.DB
	client *redis.Client
	repos  *Repositories
	once   sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB, client *redis.Client) *Factory {
	return &Factory{
		db:     db,
		client: client,
	}
}

// GetRepositories returns the shared instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.client)
	})
	return f.repos
}

// GetJobRepository returns the generation job repository instance
func (f *Factory) GetJobRepository() GenerationJobRepository {
	return f.GetRepositories().Job
}

// GetProviderConfigRepository returns the provider config repository instance
func (f *Factory) GetProviderConfigRepository() ProviderConfigRepository {
	return f.GetRepositories().ProviderConfig
}

// GetUsageLogRepository returns the usage log repository instance
func (f *Factory) GetUsageLogRepository() UsageLogRepository {
	return f.GetRepositories().UsageLog
}

// GetTenantRepository returns the tenant repository instance
func (f *Factory) GetTenantRepository() TenantRepository {
	return f.GetRepositories().Tenant
}

// GetAppUserRepository returns the app user repository instance
func (f *Factory) GetAppUserRepository() AppUserRepository {
	return f.GetRepositories().AppUser
}

// GetPricingRepository returns the model pricing repository instance
func (f *Factory) GetPricingRepository() ModelPricingRepository {
	return f.GetRepositories().Pricing
}

// GetQueueRepository returns the queue repository instance
func (f *Factory) GetQueueRepository() QueueRepository {
	return f.GetRepositories().Queue
}
