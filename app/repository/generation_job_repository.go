package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// generationJobRepository implements the GenerationJobRepository interface
type generationJobRepository struct {
	db *gorm.DB
}

// NewGenerationJobRepository creates a new generation job repository instance
func NewGenerationJobRepository(db *gorm.DB) GenerationJobRepository {
	return &generationJobRepository{db: db}
}

// Create inserts a new job row
func (r *generationJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	return r.db.WithContext(ctx).Omit("Outputs").Create(job).Error
}

// GetByID retrieves a job with its outputs in index order
func (r *generationJobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB { return db.Order("output_index ASC") }).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetForTenant retrieves a job only if it belongs to the tenant
func (r *generationJobRepository) GetForTenant(ctx context.Context, tenantID uint, id string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB { return db.Order("output_index ASC") }).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByUser lists a user's jobs, newest first
func (r *generationJobRepository) ListByUser(ctx context.Context, appUserID uint, offset, limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.db.WithContext(ctx).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB { return db.Order("output_index ASC") }).
		Where("app_user_id = ?", appUserID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// MarkCharged flags that the reservation for the job was booked
func (r *generationJobRepository) MarkCharged(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ?", id).
		Update("tokens_charged", true).Error
}

// MarkRunning moves a queued job to running
func (r *generationJobRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": now,
			"progress":   10,
		})
	return res.RowsAffected == 1, res.Error
}

// UpdateProgress stores the progress percentage of a running job
func (r *generationJobRepository) UpdateProgress(ctx context.Context, id string, percent int) error {
	return r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Update("progress", percent).Error
}

// MarkSucceeded stores the outputs and finishes a running job in one transaction
func (r *generationJobRepository) MarkSucceeded(ctx context.Context, id, provider string, attempts int, outputs []models.JobOutput) (bool, error) {
	done := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.GenerationJob{}).
			Where("id = ? AND status = ?", id, models.JobStatusRunning).
			Updates(map[string]interface{}{
				"status":         models.JobStatusSucceeded,
				"used_provider":  provider,
				"attempts_count": attempts,
				"progress":       100,
				"error_message":  "",
				"error_code":     "",
				"completed_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		// A retried attempt may have stored outputs before failing later on.
		if err := tx.Where("job_id = ?", id).Delete(&models.JobOutput{}).Error; err != nil {
			return err
		}
		for i := range outputs {
			outputs[i].JobID = id
		}
		if len(outputs) > 0 {
			if err := tx.Create(&outputs).Error; err != nil {
				return err
			}
		}
		done = true
		return nil
	})
	return done, err
}

// MarkFailed finishes a queued or running job with an error
func (r *generationJobRepository) MarkFailed(ctx context.Context, id, message, code string, attempts int) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":         models.JobStatusFailed,
			"error_message":  message,
			"error_code":     code,
			"attempts_count": attempts,
			"completed_at":   now,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkCancelled cancels a job that has not been picked up yet
func (r *generationJobRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":        models.JobStatusCancelled,
			"error_message": "cancelled by request",
			"error_code":    models.JobErrorCancelled,
			"completed_at":  now,
		})
	return res.RowsAffected == 1, res.Error
}

// ClaimRefund sets tokens_refunded on a charged job. Only one caller can win.
func (r *generationJobRepository) ClaimRefund(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND tokens_charged = ? AND tokens_refunded = ?", id, true, false).
		Update("tokens_refunded", true)
	return res.RowsAffected == 1, res.Error
}

// ReleaseRefund clears the refund flag after a failed ledger refund so it can be retried
func (r *generationJobRepository) ReleaseRefund(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ?", id).
		Update("tokens_refunded", false).Error
}

// CountByStatus returns the number of jobs per status
func (r *generationJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
