package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cadrelay/cadrelay/internal/models"
)

// conversionRepo implements ConversionRepository using GORM.
type conversionRepo struct {
	db *gorm.DB
}

// NewConversionRepository creates a new ConversionRepository.
func NewConversionRepository(db *gorm.DB) *conversionRepo {
	return &conversionRepo{db: db}
}

// Create creates a new conversion.
func (r *conversionRepo) Create(ctx context.Context, conversion *models.Conversion) error {
	if err := r.db.WithContext(ctx).Create(conversion).Error; err != nil {
		return fmt.Errorf("creating conversion: %w", err)
	}
	return nil
}

// GetByID retrieves a conversion by ID.
func (r *conversionRepo) GetByID(ctx context.Context, id models.ULID) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conversion).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting conversion by ID: %w", err)
	}
	return &conversion, nil
}

// Update updates an existing conversion.
func (r *conversionRepo) Update(ctx context.Context, conversion *models.Conversion) error {
	if err := r.db.WithContext(ctx).Save(conversion).Error; err != nil {
		return fmt.Errorf("updating conversion: %w", err)
	}
	return nil
}

// ListByAccount retrieves an account's conversions with pagination.
func (r *conversionRepo) ListByAccount(ctx context.Context, accountID models.ULID, offset, limit int) ([]*models.Conversion, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting conversions: %w", err)
	}

	var conversions []*models.Conversion
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&conversions).Error; err != nil {
		return nil, 0, fmt.Errorf("listing conversions: %w", err)
	}
	return conversions, total, nil
}

// ListAll retrieves conversions across accounts with an optional status filter.
func (r *conversionRepo) ListAll(ctx context.Context, status models.ConversionStatus, offset, limit int) ([]*models.Conversion, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Conversion{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting conversions: %w", err)
	}

	var conversions []*models.Conversion
	if err := query.
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&conversions).Error; err != nil {
		return nil, 0, fmt.Errorf("listing all conversions: %w", err)
	}
	return conversions, total, nil
}

// GetByStatus retrieves all conversions in the given status, oldest first.
func (r *conversionRepo) GetByStatus(ctx context.Context, status models.ConversionStatus) ([]*models.Conversion, error) {
	var conversions []*models.Conversion
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&conversions).Error; err != nil {
		return nil, fmt.Errorf("getting conversions by status: %w", err)
	}
	return conversions, nil
}

// CountByStatus returns the number of conversions per status.
func (r *conversionRepo) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if err := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting conversions by status: %w", err)
	}
	return counts, nil
}

// AverageProcessingTimeMs returns the mean processing time of completed conversions.
func (r *conversionRepo) AverageProcessingTimeMs(ctx context.Context) (float64, error) {
	var avg *float64
	if err := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("status = ?", models.ConversionCompleted).
		Select("AVG(processing_time_ms)").
		Scan(&avg).Error; err != nil {
		return 0, fmt.Errorf("averaging processing time: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// DeleteTerminalBefore deletes completed and failed conversions older than the cutoff.
func (r *conversionRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ?", []models.ConversionStatus{models.ConversionCompleted, models.ConversionFailed}).
		Where("created_at < ?", cutoff).
		Delete(&models.Conversion{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old conversions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
