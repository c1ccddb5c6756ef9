package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cadrelay/cadrelay/internal/auth"
	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/service"
	"github.com/cadrelay/cadrelay/internal/worker"
)

// stubGateway satisfies service.ConversionGateway for handler tests.
type stubGateway struct{}

func (stubGateway) Submit(ctx context.Context, req worker.SubmitRequest) (string, error) {
	return "task-1", nil
}
func (stubGateway) TaskStatus(ctx context.Context, taskID string) (*worker.TaskStatus, error) {
	return &worker.TaskStatus{TaskID: taskID, State: worker.StatePending}, nil
}
func (stubGateway) Cancel(ctx context.Context, taskID string) bool   { return true }
func (stubGateway) QueueStats(ctx context.Context) worker.QueueStats { return worker.QueueStats{} }
func (stubGateway) Healthy(ctx context.Context) bool                 { return true }

func newAdminHandler(t *testing.T) (*AdminHandler, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Conversion{}, &models.AnalyticsEvent{}))

	admin := service.NewAdminService(
		repository.NewAccountRepository(db),
		repository.NewConversionRepository(db),
		repository.NewAnalyticsRepository(db),
		stubGateway{},
		nil,
	)
	return NewAdminHandler(admin), db
}

func ctxWithRole(role models.Role) context.Context {
	return auth.ContextWithAccount(context.Background(), &models.Account{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		OpenID:    "oidc|caller",
		Role:      role,
	})
}

func TestAdminHandler_RequiresAdminRole(t *testing.T) {
	h, _ := newAdminHandler(t)

	_, err := h.Stats(ctxWithRole(models.RoleUser), &AdminStatsInput{})
	require.Error(t, err)
	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 403, status.GetStatus())

	// Unauthenticated requests get 401.
	_, err = h.Stats(context.Background(), &AdminStatsInput{})
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 401, status.GetStatus())
}

func TestAdminHandler_ListAccounts(t *testing.T) {
	h, db := newAdminHandler(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Account{
			OpenID: "oidc|" + models.NewULID().String(),
		}).Error)
	}

	out, err := h.ListAccounts(ctxWithRole(models.RoleAdmin), &AdminListAccountsInput{
		Pagination: Pagination{Offset: 0, Limit: 2},
	})
	require.NoError(t, err)
	assert.Len(t, out.Body.Accounts, 2)
	assert.Equal(t, int64(3), out.Body.Pagination.TotalItems)
}

func TestAdminHandler_Stats(t *testing.T) {
	h, db := newAdminHandler(t)

	account := &models.Account{OpenID: "oidc|stats"}
	require.NoError(t, db.Create(account).Error)
	require.NoError(t, db.Create(&models.Conversion{
		AccountID:        account.ID,
		OriginalFileName: "plan.dwg",
		SourceKey:        "k",
		Status:           models.ConversionCompleted,
		ProcessingTimeMs: 500,
	}).Error)

	out, err := h.Stats(ctxWithRole(models.RoleAdmin), &AdminStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Body.Conversions.Total)
	assert.Equal(t, int64(1), out.Body.Conversions.Completed)
}

func TestAdminHandler_UpdateRole(t *testing.T) {
	h, db := newAdminHandler(t)

	account := &models.Account{OpenID: "oidc|promote"}
	require.NoError(t, db.Create(account).Error)

	input := &AdminUpdateRoleInput{ID: account.ID.String()}
	input.Body.Role = models.RoleAdmin

	out, err := h.UpdateRole(ctxWithRole(models.RoleAdmin), input)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, out.Body.Role)

	missing := &AdminUpdateRoleInput{ID: models.NewULID().String()}
	missing.Body.Role = models.RoleAdmin
	_, err = h.UpdateRole(ctxWithRole(models.RoleAdmin), missing)
	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 404, status.GetStatus())
}
