package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cadrelay/cadrelay/internal/models"
)

func setupUsageTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.UsagePeriod{})
	require.NoError(t, err)

	return db
}

func TestUsageRepo_IncrementCreatesAndBumps(t *testing.T) {
	db := setupUsageTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()
	accountID := models.NewULID()

	period, err := repo.Increment(ctx, accountID, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, period.ConversionsCount)

	for i := 0; i < 4; i++ {
		period, err = repo.Increment(ctx, accountID, "2024-03")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, period.ConversionsCount)

	// One row per account and month.
	var count int64
	require.NoError(t, db.Model(&models.UsagePeriod{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUsageRepo_MonthsAreIndependent(t *testing.T) {
	db := setupUsageTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()
	accountID := models.NewULID()

	_, err := repo.Increment(ctx, accountID, "2024-03")
	require.NoError(t, err)

	april, err := repo.Increment(ctx, accountID, "2024-04")
	require.NoError(t, err)
	assert.Equal(t, 1, april.ConversionsCount)

	march, err := repo.Get(ctx, accountID, "2024-03")
	require.NoError(t, err)
	require.NotNil(t, march)
	assert.Equal(t, 1, march.ConversionsCount)
}

func TestUsageRepo_AccountsAreIndependent(t *testing.T) {
	db := setupUsageTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	first := models.NewULID()
	second := models.NewULID()

	_, err := repo.Increment(ctx, first, "2024-03")
	require.NoError(t, err)

	period, err := repo.Increment(ctx, second, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, period.ConversionsCount)
}

func TestUsageRepo_GetMissing(t *testing.T) {
	db := setupUsageTestDB(t)
	repo := NewUsageRepository(db)

	period, err := repo.Get(context.Background(), models.NewULID(), "2024-01")
	require.NoError(t, err)
	assert.Nil(t, period)
}
