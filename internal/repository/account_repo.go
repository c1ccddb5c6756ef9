package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cadrelay/cadrelay/internal/models"
)

// accountRepo implements AccountRepository using GORM.
type accountRepo struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *gorm.DB) *accountRepo {
	return &accountRepo{db: db}
}

// Create creates a new account.
func (r *accountRepo) Create(ctx context.Context, account *models.Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *accountRepo) GetByID(ctx context.Context, id models.ULID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting account by ID: %w", err)
	}
	return &account, nil
}

// GetByOpenID retrieves an account by its identity-provider subject.
func (r *accountRepo) GetByOpenID(ctx context.Context, openID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("open_id = ?", openID).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting account by open ID: %w", err)
	}
	return &account, nil
}

// GetByCustomerID retrieves an account by billing customer ID.
func (r *accountRepo) GetByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, nil
	}
	var account models.Account
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting account by customer ID: %w", err)
	}
	return &account, nil
}

// Upsert creates the account or refreshes profile fields on conflict.
// Subscription and role fields are deliberately not touched here so a login
// never clobbers billing state.
func (r *accountRepo) Upsert(ctx context.Context, account *models.Account) (*models.Account, error) {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "open_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "login_method", "last_signed_in", "updated_at",
		}),
	}).Create(account).Error; err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}

	// Re-read so the caller sees the persisted row, not the candidate.
	persisted, err := r.GetByOpenID(ctx, account.OpenID)
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		return nil, fmt.Errorf("upserting account: row missing after upsert")
	}
	return persisted, nil
}

// Update updates an existing account.
func (r *accountRepo) Update(ctx context.Context, account *models.Account) error {
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	return nil
}

// List retrieves accounts with pagination, newest first.
func (r *accountRepo) List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting accounts: %w", err)
	}

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&accounts).Error; err != nil {
		return nil, 0, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, total, nil
}

// CountByTier returns the number of accounts per subscription tier.
func (r *accountRepo) CountByTier(ctx context.Context) (map[models.SubscriptionTier]int64, error) {
	type row struct {
		SubscriptionTier models.SubscriptionTier
		Count            int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.Account{}).
		Select("subscription_tier, COUNT(*) as count").
		Group("subscription_tier").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting accounts by tier: %w", err)
	}

	counts := make(map[models.SubscriptionTier]int64, len(rows))
	for _, r := range rows {
		counts[r.SubscriptionTier] = r.Count
	}
	return counts, nil
}
