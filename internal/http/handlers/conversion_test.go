package handlers

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cadrelay/cadrelay/internal/auth"
	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/entitlement"
	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/service"
	"github.com/cadrelay/cadrelay/internal/storage"
)

// nullStore is an ObjectStore that accepts everything and serves nothing.
type nullStore struct{}

func (nullStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}
func (nullStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (nullStore) Delete(ctx context.Context, key string) error { return nil }
func (nullStore) URL(key string) string                        { return "https://files.example.com/" + key }

func newConversionHandler(t *testing.T) (*ConversionHandler, *service.ConversionService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{}, &models.Conversion{}, &models.UsagePeriod{},
		&models.AnalyticsEvent{}, &models.NotificationTask{},
	))

	spool, err := storage.NewSpool(t.TempDir())
	require.NoError(t, err)

	svc := service.NewConversionService(service.ConversionServiceParams{
		Conversions:   repository.NewConversionRepository(db),
		Accounts:      repository.NewAccountRepository(db),
		Usage:         repository.NewUsageRepository(db),
		Analytics:     repository.NewAnalyticsRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Checker:       entitlement.NewChecker(5, 10),
		Gateway:       stubGateway{},
		Store:         nullStore{},
		Spool:         spool,
		MaxUploadSize: 1024,
		Worker: config.WorkerConfig{
			PollStartupDelay: time.Millisecond,
			PollInterval:     time.Millisecond,
			PollMaxAttempts:  2,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	return NewConversionHandler(svc), svc, db
}

func ctxWithAccount(t *testing.T, db *gorm.DB) (context.Context, *models.Account) {
	t.Helper()
	account := &models.Account{OpenID: "oidc|" + models.NewULID().String()}
	require.NoError(t, db.Create(account).Error)
	return auth.ContextWithAccount(context.Background(), account), account
}

func TestConversionHandler_CreateValidation(t *testing.T) {
	h, _, db := newConversionHandler(t)
	ctx, _ := ctxWithAccount(t, db)

	var status huma.StatusError

	input := &CreateConversionInput{}
	input.Body.FileName = "drawing.png"
	input.Body.Data = []byte("x")
	_, err := h.Create(ctx, input)
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 400, status.GetStatus())
	assert.Contains(t, status.Error(), "DWG and DXF")

	input = &CreateConversionInput{}
	input.Body.FileName = "big.dwg"
	input.Body.Data = make([]byte, 2048)
	_, err = h.Create(ctx, input)
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 400, status.GetStatus())
}

func TestConversionHandler_CreateAndGet(t *testing.T) {
	h, _, db := newConversionHandler(t)
	ctx, _ := ctxWithAccount(t, db)

	input := &CreateConversionInput{}
	input.Body.FileName = "plan.dwg"
	input.Body.Data = []byte("cad")
	out, err := h.Create(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "task-1", out.Body.TaskID)
	assert.NotEmpty(t, out.Body.ID.String())

	got, err := h.GetByID(ctx, &GetConversionInput{ID: out.Body.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "plan.dwg", got.Body.OriginalFileName)

	// Another account cannot see it.
	otherCtx, _ := ctxWithAccount(t, db)
	var status huma.StatusError
	_, err = h.GetByID(otherCtx, &GetConversionInput{ID: out.Body.ID.String()})
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 403, status.GetStatus())

	_, err = h.GetByID(ctx, &GetConversionInput{ID: models.NewULID().String()})
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 404, status.GetStatus())

	_, err = h.GetByID(ctx, &GetConversionInput{ID: "not-a-ulid"})
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 400, status.GetStatus())
}

func TestConversionHandler_QuotaMapsToForbidden(t *testing.T) {
	h, _, db := newConversionHandler(t)
	ctx, account := ctxWithAccount(t, db)

	usage := repository.NewUsageRepository(db)
	for i := 0; i < 5; i++ {
		_, err := usage.Increment(context.Background(), account.ID, models.CurrentMonthKey())
		require.NoError(t, err)
	}

	input := &CreateConversionInput{}
	input.Body.FileName = "plan.dwg"
	input.Body.Data = []byte("cad")
	_, err := h.Create(ctx, input)
	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 403, status.GetStatus())
	assert.Contains(t, status.Error(), "limit")
}

func TestConversionHandler_Usage(t *testing.T) {
	h, _, db := newConversionHandler(t)
	ctx, _ := ctxWithAccount(t, db)

	out, err := h.Usage(ctx, &UsageInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Body.Used)
	assert.Equal(t, 5, out.Body.Limit)
	assert.Equal(t, models.TierFree, out.Body.Tier)
}

func TestConversionHandler_Unauthenticated(t *testing.T) {
	h, _, _ := newConversionHandler(t)

	_, err := h.Usage(context.Background(), &UsageInput{})
	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 401, status.GetStatus())
}
