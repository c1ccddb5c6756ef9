package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/cadrelay/cadrelay/internal/models"
)

// notificationRepo implements NotificationRepository using GORM.
type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) *notificationRepo {
	return &notificationRepo{db: db}
}

// Create enqueues a notification task.
func (r *notificationRepo) Create(ctx context.Context, task *models.NotificationTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating notification task: %w", err)
	}
	return nil
}

// GetPending retrieves pending notifications, oldest first.
func (r *notificationRepo) GetPending(ctx context.Context, limit int) ([]*models.NotificationTask, error) {
	var tasks []*models.NotificationTask
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.NotificationPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting pending notifications: %w", err)
	}
	return tasks, nil
}

// Update updates a notification task.
func (r *notificationRepo) Update(ctx context.Context, task *models.NotificationTask) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating notification task: %w", err)
	}
	return nil
}
