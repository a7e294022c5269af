package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// providerConfigRepository implements the ProviderConfigRepository interface
type providerConfigRepository struct {
	db *gorm.DB
}

// NewProviderConfigRepository creates a new provider config repository instance
func NewProviderConfigRepository(db *gorm.DB) ProviderConfigRepository {
	return &providerConfigRepository{db: db}
}

// EnabledConfigs returns the enabled configs of a model. Ties on priority keep creation order.
func (r *providerConfigRepository) EnabledConfigs(ctx context.Context, modelKey string) ([]models.ProviderConfig, error) {
	var configs []models.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("model_key = ? AND is_enabled = ?", modelKey, true).
		Order("priority ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&configs).Error
	return configs, err
}

// ProviderEnabled reports the global switch of a provider. Providers without a row count as enabled.
func (r *providerConfigRepository) ProviderEnabled(ctx context.Context, providerKey string) (bool, error) {
	var p models.Provider
	err := r.db.WithContext(ctx).Select("id", "is_enabled").Where("`key` = ?", providerKey).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsEnabled, nil
}

// ListProviders returns all providers ordered by key
func (r *providerConfigRepository) ListProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	err := r.db.WithContext(ctx).Order("`key` ASC").Find(&providers).Error
	return providers, err
}
