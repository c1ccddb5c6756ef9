// Package repository defines data access interfaces for cadrelay entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/cadrelay/cadrelay/internal/models"
)

// EventTypeCount represents an analytics event type with its occurrence count.
type EventTypeCount struct {
	EventType models.AnalyticsEventType `json:"event_type"`
	Count     int64                     `json:"count"`
}

// StatusCount represents a conversion status with its occurrence count.
type StatusCount struct {
	Status models.ConversionStatus `json:"status"`
	Count  int64                   `json:"count"`
}

// AccountRepository defines operations for account persistence.
type AccountRepository interface {
	// Create creates a new account.
	Create(ctx context.Context, account *models.Account) error
	// GetByID retrieves an account by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Account, error)
	// GetByOpenID retrieves an account by its identity-provider subject.
	GetByOpenID(ctx context.Context, openID string) (*models.Account, error)
	// GetByCustomerID retrieves an account by billing customer ID.
	GetByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	// Upsert creates the account or refreshes its profile fields when an
	// account with the same OpenID already exists. The returned account is
	// always the persisted row.
	Upsert(ctx context.Context, account *models.Account) (*models.Account, error)
	// Update updates an existing account.
	Update(ctx context.Context, account *models.Account) error
	// List retrieves accounts with pagination, newest first.
	List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error)
	// CountByTier returns the number of accounts per subscription tier.
	CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error)
}

// ConversionRepository defines operations for conversion persistence.
type ConversionRepository interface {
	// Create creates a new conversion.
	Create(ctx context.Context, conversion *models.Conversion) error
	// GetByID retrieves a conversion by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Conversion, error)
	// Update updates an existing conversion.
	Update(ctx context.Context, conversion *models.Conversion) error
	// ListByAccount retrieves an account's conversions with pagination,
	// newest first.
	ListByAccount(ctx context.Context, accountID models.ULID, offset, limit int) ([]*models.Conversion, int64, error)
	// ListAll retrieves conversions across accounts with an optional status
	// filter, newest first.
	ListAll(ctx context.Context, status models.ConversionStatus, offset, limit int) ([]*models.Conversion, int64, error)
	// GetByStatus retrieves all conversions in the given status.
	GetByStatus(ctx context.Context, status models.ConversionStatus) ([]*models.Conversion, error)
	// CountByStatus returns the number of conversions per status.
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	// AverageProcessingTimeMs returns the mean processing time of completed
	// conversions, or 0 when there are none.
	AverageProcessingTimeMs(ctx context.Context) (float64, error)
	// DeleteTerminalBefore deletes completed and failed conversions older
	// than the cutoff. Returns the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UsageRepository defines operations for monthly usage counters.
type UsageRepository interface {
	// Increment atomically bumps the conversion count for the account and
	// month, creating the period row if needed, and returns the updated row.
	Increment(ctx context.Context, accountID models.ULID, month string) (*models.UsagePeriod, error)
	// Get retrieves the usage period for the account and month.
	// Returns nil when the account has no usage that month.
	Get(ctx context.Context, accountID models.ULID, month string) (*models.UsagePeriod, error)
}

// AnalyticsRepository defines operations for the append-only analytics log.
type AnalyticsRepository interface {
	// Create appends an analytics event.
	Create(ctx context.Context, event *models.AnalyticsEvent) error
	// CountByType returns event counts per type since the given time.
	CountByType(ctx context.Context, since time.Time) ([]EventTypeCount, error)
	// ListRecent retrieves the most recent events, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.AnalyticsEvent, error)
}

// NotificationRepository defines operations for queued notifications.
type NotificationRepository interface {
	// Create enqueues a notification task.
	Create(ctx context.Context, task *models.NotificationTask) error
	// GetPending retrieves pending notifications, oldest first.
	GetPending(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	// Update updates a notification task.
	Update(ctx context.Context, task *models.NotificationTask) error
}
