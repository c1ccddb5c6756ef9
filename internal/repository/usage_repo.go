package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cadrelay/cadrelay/internal/models"
)

// usageRepo implements UsageRepository using GORM.
type usageRepo struct {
	db *gorm.DB
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *gorm.DB) *usageRepo {
	return &usageRepo{db: db}
}

// Increment atomically bumps the conversion count for the account and month.
// The whole operation is a single upsert so two concurrent conversions can
// never read-modify-write the same counter.
func (r *usageRepo) Increment(ctx context.Context, accountID models.ULID, month string) (*models.UsagePeriod, error) {
	period := &models.UsagePeriod{
		AccountID:        accountID,
		Month:            month,
		ConversionsCount: 1,
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]any{
			"conversions_count": gorm.Expr("conversions_count + 1"),
			"updated_at":        time.Now().UTC(),
		}),
	}).Create(period).Error; err != nil {
		return nil, fmt.Errorf("incrementing usage: %w", err)
	}

	// The in-memory struct holds the pre-conflict candidate; re-read for the
	// authoritative count.
	updated, err := r.Get(ctx, accountID, month)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("incrementing usage: row missing after upsert")
	}
	return updated, nil
}

// Get retrieves the usage period for the account and month.
func (r *usageRepo) Get(ctx context.Context, accountID models.ULID, month string) (*models.UsagePeriod, error) {
	var period models.UsagePeriod
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND month = ?", accountID, month).
		First(&period).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting usage period: %w", err)
	}
	return &period, nil
}
