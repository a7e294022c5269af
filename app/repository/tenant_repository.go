package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// tenantRepository implements the TenantRepository interface
type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

// GetByID retrieves a tenant by its ID
func (r *tenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetByAPIKeyHash retrieves an active tenant by the hash of its API key
func (r *tenantRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	if hash == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var tenant models.Tenant
	err := r.db.WithContext(ctx).
		Where("api_key_hash = ? AND is_active = ?", hash, true).
		First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Create validates and inserts a tenant
func (r *tenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(tenant).Error
}

// appUserRepository implements the AppUserRepository interface
type appUserRepository struct {
	db *gorm.DB
}

// NewAppUserRepository creates a new app user repository instance
func NewAppUserRepository(db *gorm.DB) AppUserRepository {
	return &appUserRepository{db: db}
}

// GetByID retrieves an app user by its ID
func (r *appUserRepository) GetByID(ctx context.Context, id uint) (*models.AppUser, error) {
	var user models.AppUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByExternalID retrieves an app user by the tenant's own user reference
func (r *appUserRepository) GetByExternalID(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, error) {
	var user models.AppUser
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FirstOrCreate returns the user, creating it on first sight. created reports a new row.
func (r *appUserRepository) FirstOrCreate(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, bool, error) {
	user, err := r.GetByExternalID(ctx, tenantID, externalID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user = &models.AppUser{TenantID: tenantID, ExternalID: externalID}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		// Lost a race against a concurrent first request of the same user.
		if existing, lookupErr := r.GetByExternalID(ctx, tenantID, externalID); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}

// modelPricingRepository implements the ModelPricingRepository interface
type modelPricingRepository struct {
	db *gorm.DB
}

// NewModelPricingRepository creates a new model pricing repository instance
func NewModelPricingRepository(db *gorm.DB) ModelPricingRepository {
	return &modelPricingRepository{db: db}
}

// GetActive returns the active price of a model
func (r *modelPricingRepository) GetActive(ctx context.Context, modelKey string) (*models.ModelPricing, error) {
	var pricing models.ModelPricing
	err := r.db.WithContext(ctx).
		Where("model_key = ? AND is_active = ?", modelKey, true).
		First(&pricing).Error
	if err != nil {
		return nil, err
	}
	return &pricing, nil
}
