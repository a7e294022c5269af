package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// usageLogRepository implements the UsageLogRepository interface
type usageLogRepository struct {
	db *gorm.DB
}

// NewUsageLogRepository creates a new usage log repository instance
func NewUsageLogRepository(db *gorm.DB) UsageLogRepository {
	return &usageLogRepository{db: db}
}

// RecordUsage inserts one attempt row
func (r *usageLogRepository) RecordUsage(ctx context.Context, entry *models.ProviderUsageLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByJob returns the attempts of a job in order
func (r *usageLogRepository) ListByJob(ctx context.Context, jobID string) ([]models.ProviderUsageLog, error) {
	var rows []models.ProviderUsageLog
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_number ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
