package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cadrelay/cadrelay/internal/models"
)

// analyticsRepo implements AnalyticsRepository using GORM.
type analyticsRepo struct {
	db *gorm.DB
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(db *gorm.DB) *analyticsRepo {
	return &analyticsRepo{db: db}
}

// Create appends an analytics event.
func (r *analyticsRepo) Create(ctx context.Context, event *models.AnalyticsEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating analytics event: %w", err)
	}
	return nil
}

// CountByType returns event counts per type since the given time.
func (r *analyticsRepo) CountByType(ctx context.Context, since time.Time) ([]EventTypeCount, error) {
	var counts []EventTypeCount
	if err := r.db.WithContext(ctx).Model(&models.AnalyticsEvent{}).
		Select("event_type, COUNT(*) as count").
		Where("created_at >= ?", since).
		Group("event_type").
		Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting analytics events: %w", err)
	}
	return counts, nil
}

// ListRecent retrieves the most recent events, newest first.
func (r *analyticsRepo) ListRecent(ctx context.Context, limit int) ([]*models.AnalyticsEvent, error) {
	var events []*models.AnalyticsEvent
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing analytics events: %w", err)
	}
	return events, nil
}
