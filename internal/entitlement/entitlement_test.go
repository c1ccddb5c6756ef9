package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cadrelay/cadrelay/internal/models"
)

func TestChecker_CanStartConversion(t *testing.T) {
	checker := NewChecker(5, 10)

	free := &models.Account{SubscriptionTier: models.TierFree}
	premium := &models.Account{SubscriptionTier: models.TierPremium}

	tests := []struct {
		name    string
		account *models.Account
		used    int
		wantErr error
	}{
		{"free under limit", free, 0, nil},
		{"free at limit minus one", free, 4, nil},
		{"free at limit", free, 5, models.ErrQuotaExceeded},
		{"free over limit", free, 9, models.ErrQuotaExceeded},
		{"premium ignores limit", premium, 500, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.CanStartConversion(tt.account, tt.used)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChecker_Remaining(t *testing.T) {
	checker := NewChecker(5, 10)

	free := &models.Account{SubscriptionTier: models.TierFree}
	premium := &models.Account{SubscriptionTier: models.TierPremium}

	assert.Equal(t, 5, checker.Remaining(free, 0))
	assert.Equal(t, 1, checker.Remaining(free, 4))
	assert.Equal(t, 0, checker.Remaining(free, 5))
	assert.Equal(t, 0, checker.Remaining(free, 8))
	assert.Equal(t, -1, checker.Remaining(premium, 1000))
}

func TestChecker_PriorityFor(t *testing.T) {
	checker := NewChecker(5, 10)

	assert.Equal(t, 0, checker.PriorityFor(&models.Account{SubscriptionTier: models.TierFree}))
	assert.Equal(t, 10, checker.PriorityFor(&models.Account{SubscriptionTier: models.TierPremium}))
}
