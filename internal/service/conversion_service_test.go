package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/entitlement"
	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/storage"
	"github.com/cadrelay/cadrelay/internal/worker"
)

// fakeGateway scripts worker responses for lifecycle tests.
type fakeGateway struct {
	mu         sync.Mutex
	submitErr  error
	taskID     string
	statuses   []statusStep
	statusIdx  int
	cancelled  []string
	healthy    bool
	queueStats worker.QueueStats
}

type statusStep struct {
	status *worker.TaskStatus
	err    error
}

func (g *fakeGateway) Submit(ctx context.Context, req worker.SubmitRequest) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return g.taskID, nil
}

func (g *fakeGateway) TaskStatus(ctx context.Context, taskID string) (*worker.TaskStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.statuses) == 0 {
		return &worker.TaskStatus{TaskID: taskID, State: worker.StatePending}, nil
	}
	step := g.statuses[g.statusIdx]
	if g.statusIdx < len(g.statuses)-1 {
		g.statusIdx++
	}
	return step.status, step.err
}

func (g *fakeGateway) Cancel(ctx context.Context, taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, taskID)
	return true
}

func (g *fakeGateway) QueueStats(ctx context.Context) worker.QueueStats { return g.queueStats }
func (g *fakeGateway) Healthy(ctx context.Context) bool                 { return g.healthy }

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error { return nil }

func (m *memStore) URL(key string) string { return "https://files.example.com/" + key }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type lifecycleFixture struct {
	svc         *ConversionService
	db          *gorm.DB
	gateway     *fakeGateway
	store       *memStore
	spool       *storage.Spool
	conversions repository.ConversionRepository
	analytics   repository.AnalyticsRepository
	usage       repository.UsageRepository
}

func newLifecycleFixture(t *testing.T, gateway *fakeGateway) *lifecycleFixture {
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

	store := newMemStore()
	conversions := repository.NewConversionRepository(db)
	analytics := repository.NewAnalyticsRepository(db)
	usage := repository.NewUsageRepository(db)

	svc := NewConversionService(ConversionServiceParams{
		Conversions:   conversions,
		Accounts:      repository.NewAccountRepository(db),
		Usage:         usage,
		Analytics:     analytics,
		Notifications: repository.NewNotificationRepository(db),
		Checker:       entitlement.NewChecker(5, 10),
		Gateway:       gateway,
		Store:         store,
		Spool:         spool,
		MaxUploadSize: 1024 * 1024,
		Worker: config.WorkerConfig{
			PollStartupDelay: time.Millisecond,
			PollInterval:     time.Millisecond,
			PollMaxAttempts:  100,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	return &lifecycleFixture{
		svc:         svc,
		db:          db,
		gateway:     gateway,
		store:       store,
		spool:       spool,
		conversions: conversions,
		analytics:   analytics,
		usage:       usage,
	}
}

func newTestAccount(t *testing.T, f *lifecycleFixture, tier models.SubscriptionTier) *models.Account {
	t.Helper()
	account := &models.Account{
		OpenID:           "oidc|" + models.NewULID().String(),
		Email:            "owner@example.com",
		SubscriptionTier: tier,
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *lifecycleFixture) waitTerminal(t *testing.T, id models.ULID) *models.Conversion {
	t.Helper()
	var conversion *models.Conversion
	require.Eventually(t, func() bool {
		c, err := f.conversions.GetByID(context.Background(), id)
		if err != nil || c == nil {
			return false
		}
		conversion = c
		return c.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return conversion
}

func (f *lifecycleFixture) eventTypes(t *testing.T) map[models.AnalyticsEventType]int64 {
	t.Helper()
	counts, err := f.analytics.CountByType(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	byType := make(map[models.AnalyticsEventType]int64)
	for _, c := range counts {
		byType[c.EventType] = c.Count
	}
	return byType
}

func TestConversionService_HappyPath(t *testing.T) {
	gateway := &fakeGateway{taskID: "task-1"}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, account, UploadRequest{FileName: "plan.dwg", Data: []byte("cad-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "task-1", result.TaskID)

	// The gateway reports PENDING until the worker's output exists; write the
	// PDF first, then flip the scripted status to SUCCESS.
	require.NoError(t, os.WriteFile(f.spool.OutputPath(result.ConversionID.String()), []byte("%PDF"), 0o644))
	gateway.mu.Lock()
	gateway.statuses = []statusStep{
		{status: &worker.TaskStatus{
			State:  worker.StateSuccess,
			Result: &worker.TaskResult{Success: true, ProcessingTimeMs: 1234},
		}},
	}
	gateway.mu.Unlock()

	conversion := f.waitTerminal(t, result.ConversionID)
	assert.Equal(t, models.ConversionCompleted, conversion.Status)
	assert.Equal(t, int64(1234), conversion.ProcessingTimeMs)
	assert.Contains(t, conversion.PDFURL, "plan.pdf")
	assert.True(t, f.store.has(conversion.SourceKey))
	assert.True(t, f.store.has(conversion.PDFKey))

	// Usage counted exactly once.
	period, err := f.usage.Get(ctx, account.ID, models.CurrentMonthKey())
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, 1, period.ConversionsCount)

	events := f.eventTypes(t)
	assert.Equal(t, int64(1), events[models.EventFileUploaded])
	assert.Equal(t, int64(1), events[models.EventConversionStarted])
	assert.Equal(t, int64(1), events[models.EventConversionCompleted])

	// Notification queued for the owner.
	var notifications []models.NotificationTask
	require.NoError(t, f.db.Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, "owner@example.com", notifications[0].RecipientEmail)
	assert.Contains(t, notifications[0].Body, "plan.dwg")

	// Spool cleaned up.
	assert.NoFileExists(t, f.spool.OutputPath(result.ConversionID.String()))
}

func TestConversionService_RejectsBadUploads(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{taskID: "task-x"})
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, account, UploadRequest{FileName: "drawing.png", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrUnsupportedFileType)

	_, err = f.svc.Create(ctx, account, UploadRequest{FileName: "big.dwg", Data: make([]byte, 2*1024*1024)})
	assert.ErrorIs(t, err, models.ErrFileTooLarge)
	assert.Contains(t, err.Error(), "1MB")

	_, err = f.svc.Create(ctx, account, UploadRequest{FileName: "", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrFileNameRequired)

	// Extension check is case-insensitive.
	gateway := &fakeGateway{taskID: "task-up", statuses: []statusStep{
		{status: &worker.TaskStatus{State: worker.StatePending}},
	}}
	f2 := newLifecycleFixture(t, gateway)
	account2 := newTestAccount(t, f2, models.TierFree)
	_, err = f2.svc.Create(ctx, account2, UploadRequest{FileName: "PLAN.DXF", Data: []byte("x")})
	assert.NoError(t, err)
}

func TestConversionService_QuotaEnforced(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{taskID: "task-q"})
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.usage.Increment(ctx, account.ID, models.CurrentMonthKey())
		require.NoError(t, err)
	}

	_, err := f.svc.Create(ctx, account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	events := f.eventTypes(t)
	assert.Equal(t, int64(1), events[models.EventLimitReached])
}

func TestConversionService_PremiumBypassesQuota(t *testing.T) {
	gateway := &fakeGateway{taskID: "task-p", statuses: []statusStep{
		{status: &worker.TaskStatus{State: worker.StatePending}},
	}}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierPremium)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := f.usage.Increment(ctx, account.ID, models.CurrentMonthKey())
		require.NoError(t, err)
	}

	result, err := f.svc.Create(ctx, account, UploadRequest{FileName: "tower.dxf", Data: []byte("x")})
	require.NoError(t, err)

	conversion, err := f.conversions.GetByID(ctx, result.ConversionID)
	require.NoError(t, err)
	assert.Equal(t, 10, conversion.Priority)
}

func TestConversionService_SubmitFailureFailsImmediately(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{submitErr: assert.AnError})
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.Error(t, err)

	conversions, _, err := f.conversions.ListByAccount(ctx, account.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, models.ConversionFailed, conversions[0].Status)
	assert.NotEmpty(t, conversions[0].ErrorMessage)

	// The attempt still consumed quota.
	period, err := f.usage.Get(ctx, account.ID, models.CurrentMonthKey())
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, 1, period.ConversionsCount)
}

// processingWriteFailer rejects the first persist of a processing row.
type processingWriteFailer struct {
	repository.ConversionRepository
	tripped bool
}

func (r *processingWriteFailer) Update(ctx context.Context, c *models.Conversion) error {
	if !r.tripped && c.Status == models.ConversionProcessing {
		r.tripped = true
		return errors.New("database is locked")
	}
	return r.ConversionRepository.Update(ctx, c)
}

func TestConversionService_ProcessingPersistFailureCancelsTask(t *testing.T) {
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

	gateway := &fakeGateway{taskID: "task-stuck"}
	conversions := &processingWriteFailer{ConversionRepository: repository.NewConversionRepository(db)}

	svc := NewConversionService(ConversionServiceParams{
		Conversions:   conversions,
		Accounts:      repository.NewAccountRepository(db),
		Usage:         repository.NewUsageRepository(db),
		Analytics:     repository.NewAnalyticsRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Checker:       entitlement.NewChecker(5, 10),
		Gateway:       gateway,
		Store:         newMemStore(),
		Spool:         spool,
		MaxUploadSize: 1024 * 1024,
		Worker: config.WorkerConfig{
			PollStartupDelay: time.Millisecond,
			PollInterval:     time.Millisecond,
			PollMaxAttempts:  5,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	account := &models.Account{OpenID: "oidc|persist", Email: "owner@example.com"}
	require.NoError(t, db.Create(account).Error)

	ctx := context.Background()
	_, err = svc.Create(ctx, account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.Error(t, err)

	// The worker task was cancelled and the row is terminal, not a pending
	// conversion the reaper would never find.
	assert.Equal(t, []string{"task-stuck"}, gateway.cancelled)

	rows, _, err := conversions.ListByAccount(ctx, account.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ConversionFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "persisting conversion state")
}

func TestConversionService_WorkerFailure(t *testing.T) {
	gateway := &fakeGateway{taskID: "task-f", statuses: []statusStep{
		{status: &worker.TaskStatus{
			State:  worker.StateFailure,
			Result: &worker.TaskResult{Success: false, Error: "corrupt DWG header"},
		}},
	}}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierFree)

	result, err := f.svc.Create(context.Background(), account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.NoError(t, err)

	conversion := f.waitTerminal(t, result.ConversionID)
	assert.Equal(t, models.ConversionFailed, conversion.Status)
	assert.Equal(t, "corrupt DWG header", conversion.ErrorMessage)

	events := f.eventTypes(t)
	assert.Equal(t, int64(1), events[models.EventConversionFailed])
}

func TestConversionService_PollTimeout(t *testing.T) {
	// Worker never leaves PENDING.
	f := newLifecycleFixture(t, &fakeGateway{taskID: "task-t"})
	account := newTestAccount(t, f, models.TierFree)

	result, err := f.svc.Create(context.Background(), account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.NoError(t, err)

	conversion := f.waitTerminal(t, result.ConversionID)
	assert.Equal(t, models.ConversionFailed, conversion.Status)
	assert.Equal(t, "conversion timed out", conversion.ErrorMessage)
}

func TestConversionService_StatusUnavailable(t *testing.T) {
	gateway := &fakeGateway{taskID: "task-u", statuses: []statusStep{
		{err: assert.AnError},
	}}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierFree)

	result, err := f.svc.Create(context.Background(), account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.NoError(t, err)

	conversion := f.waitTerminal(t, result.ConversionID)
	assert.Equal(t, models.ConversionFailed, conversion.Status)
	assert.Equal(t, "conversion status unavailable", conversion.ErrorMessage)
}

func TestConversionService_FinalizationFailure(t *testing.T) {
	// Worker claims success but never produced the output file.
	gateway := &fakeGateway{taskID: "task-o", statuses: []statusStep{
		{status: &worker.TaskStatus{
			State:  worker.StateSuccess,
			Result: &worker.TaskResult{Success: true},
		}},
	}}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierFree)

	result, err := f.svc.Create(context.Background(), account, UploadRequest{FileName: "plan.dwg", Data: []byte("x")})
	require.NoError(t, err)

	conversion := f.waitTerminal(t, result.ConversionID)
	assert.Equal(t, models.ConversionFailed, conversion.Status)
	assert.Contains(t, conversion.ErrorMessage, "storing converted output")
}

func TestConversionService_ReapInterrupted(t *testing.T) {
	gateway := &fakeGateway{}
	f := newLifecycleFixture(t, gateway)
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	stuck := &models.Conversion{
		AccountID:        account.ID,
		OriginalFileName: "plan.dwg",
		SourceKey:        "k",
		Status:           models.ConversionPending,
	}
	require.NoError(t, f.conversions.Create(ctx, stuck))
	require.NoError(t, stuck.MarkProcessing("task-old"))
	require.NoError(t, f.conversions.Update(ctx, stuck))

	reaped, err := f.svc.ReapInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, []string{"task-old"}, gateway.cancelled)

	conversion, err := f.conversions.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionFailed, conversion.Status)
	assert.Contains(t, conversion.ErrorMessage, "interrupted")
}

func TestConversionService_GetForAccountOwnership(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{})
	owner := newTestAccount(t, f, models.TierFree)
	stranger := newTestAccount(t, f, models.TierFree)
	admin := newTestAccount(t, f, models.TierFree)
	admin.Role = models.RoleAdmin
	require.NoError(t, f.db.Save(admin).Error)
	ctx := context.Background()

	conversion := &models.Conversion{
		AccountID:        owner.ID,
		OriginalFileName: "plan.dwg",
		SourceKey:        "k",
		Status:           models.ConversionPending,
	}
	require.NoError(t, f.conversions.Create(ctx, conversion))

	got, err := f.svc.GetForAccount(ctx, owner, conversion.ID)
	require.NoError(t, err)
	assert.Equal(t, conversion.ID, got.ID)

	_, err = f.svc.GetForAccount(ctx, stranger, conversion.ID)
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, err = f.svc.GetForAccount(ctx, admin, conversion.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetForAccount(ctx, owner, models.NewULID())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConversionService_Usage(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{})
	free := newTestAccount(t, f, models.TierFree)
	premium := newTestAccount(t, f, models.TierPremium)
	ctx := context.Background()

	_, err := f.usage.Increment(ctx, free.ID, models.CurrentMonthKey())
	require.NoError(t, err)

	summary, err := f.svc.Usage(ctx, free)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Used)
	assert.Equal(t, 5, summary.Limit)
	assert.Equal(t, models.TierFree, summary.Tier)
	assert.Equal(t, models.CurrentMonthKey(), summary.Month)

	summary, err = f.svc.Usage(ctx, premium)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Used)
	assert.Equal(t, -1, summary.Limit)
}

func TestConversionService_RecordDownload(t *testing.T) {
	f := newLifecycleFixture(t, &fakeGateway{})
	account := newTestAccount(t, f, models.TierFree)
	ctx := context.Background()

	conversion := &models.Conversion{
		AccountID:        account.ID,
		OriginalFileName: "plan.dwg",
		SourceKey:        "k",
		Status:           models.ConversionPending,
	}
	require.NoError(t, f.conversions.Create(ctx, conversion))

	// Not completed yet.
	_, err := f.svc.RecordDownload(ctx, account, conversion.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, conversion.MarkProcessing("t"))
	require.NoError(t, conversion.MarkCompleted("pdf-key", "https://files.example.com/pdf-key"))
	require.NoError(t, f.conversions.Update(ctx, conversion))

	url, err := f.svc.RecordDownload(ctx, account, conversion.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/pdf-key", url)

	events := f.eventTypes(t)
	assert.Equal(t, int64(1), events[models.EventPDFDownloaded])
}
