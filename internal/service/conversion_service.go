// Package service implements the application logic of cadrelay: the
// conversion job lifecycle, usage accounting, billing reconciliation, and the
// admin read models.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/entitlement"
	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/storage"
	"github.com/cadrelay/cadrelay/internal/worker"
)

// ConversionGateway is the slice of the worker client the lifecycle needs.
type ConversionGateway interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*worker.TaskStatus, error)
	Cancel(ctx context.Context, taskID string) bool
	QueueStats(ctx context.Context) worker.QueueStats
	Healthy(ctx context.Context) bool
}

// UploadRequest carries a decoded file upload.
type UploadRequest struct {
	FileName string
	Data     []byte
}

// UploadResult reports the created conversion.
type UploadResult struct {
	ConversionID models.ULID
	TaskID       string
}

// UsageSummary is an account's quota standing for the current month.
type UsageSummary struct {
	Used  int                     `json:"used"`
	Limit int                     `json:"limit"` // -1 means unlimited
	Tier  models.SubscriptionTier `json:"tier"`
	Month string                  `json:"month"`
}

// allowedExtensions are the CAD formats the worker can convert.
var allowedExtensions = map[string]bool{
	".dwg": true,
	".dxf": true,
}

// ConversionService drives a conversion from upload to terminal state.
type ConversionService struct {
	conversions   repository.ConversionRepository
	accounts      repository.AccountRepository
	usage         repository.UsageRepository
	analytics     repository.AnalyticsRepository
	notifications repository.NotificationRepository

	checker *entitlement.Checker
	gateway ConversionGateway
	store   storage.ObjectStore
	spool   *storage.Spool

	maxUploadSize int64
	pollStartup   time.Duration
	pollInterval  time.Duration
	pollAttempts  int

	logger *slog.Logger

	// rootCtx detaches poll loops from request contexts; a finished HTTP
	// request must not cancel a conversion in flight.
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ConversionServiceParams bundles the dependencies of NewConversionService.
type ConversionServiceParams struct {
	Conversions   repository.ConversionRepository
	Accounts      repository.AccountRepository
	Usage         repository.UsageRepository
	Analytics     repository.AnalyticsRepository
	Notifications repository.NotificationRepository
	Checker       *entitlement.Checker
	Gateway       ConversionGateway
	Store         storage.ObjectStore
	Spool         *storage.Spool
	MaxUploadSize int64
	Worker        config.WorkerConfig
	Logger        *slog.Logger
}

// NewConversionService creates the conversion lifecycle service.
func NewConversionService(p ConversionServiceParams) *ConversionService {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversionService{
		conversions:   p.Conversions,
		accounts:      p.Accounts,
		usage:         p.Usage,
		analytics:     p.Analytics,
		notifications: p.Notifications,
		checker:       p.Checker,
		gateway:       p.Gateway,
		store:         p.Store,
		spool:         p.Spool,
		maxUploadSize: p.MaxUploadSize,
		pollStartup:   p.Worker.PollStartupDelay,
		pollInterval:  p.Worker.PollInterval,
		pollAttempts:  p.Worker.PollMaxAttempts,
		logger:        p.Logger,
		rootCtx:       ctx,
		cancel:        cancel,
	}
}

// Create validates an upload, stores it, and hands it to the worker. On
// submission success the conversion is left in processing with a background
// poll loop attached; on submission failure it is failed immediately.
func (s *ConversionService) Create(ctx context.Context, account *models.Account, req UploadRequest) (*UploadResult, error) {
	if req.FileName == "" {
		return nil, models.ErrFileNameRequired
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	if !allowedExtensions[ext] {
		return nil, models.ErrUnsupportedFileType
	}
	if int64(len(req.Data)) > s.maxUploadSize {
		return nil, fmt.Errorf("%w: files must be %s or smaller", models.ErrFileTooLarge, config.ByteSize(s.maxUploadSize))
	}

	month := models.CurrentMonthKey()
	used := 0
	if period, err := s.usage.Get(ctx, account.ID, month); err != nil {
		return nil, err
	} else if period != nil {
		used = period.ConversionsCount
	}
	if err := s.checker.CanStartConversion(account, used); err != nil {
		s.track(ctx, &account.ID, models.EventLimitReached, map[string]any{
			"month": month,
			"used":  used,
		})
		return nil, err
	}

	conversion := &models.Conversion{
		BaseModel:        models.BaseModel{ID: models.NewULID()},
		AccountID:        account.ID,
		OriginalFileName: req.FileName,
		FileSize:         int64(len(req.Data)),
		Status:           models.ConversionPending,
		Priority:         s.checker.PriorityFor(account),
	}
	conversionID := conversion.ID.String()

	// Durable copy first: the upload must survive even if the worker is down.
	sourceKey := storage.ObjectKey(account.ID.String(), conversionID, req.FileName)
	if err := s.store.Put(ctx, sourceKey, bytes.NewReader(req.Data), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("storing uploaded file: %w", err)
	}
	conversion.SourceKey = sourceKey
	conversion.SourceURL = s.store.URL(sourceKey)

	inputPath, _, err := s.spool.WriteInput(conversionID, req.FileName, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("spooling uploaded file: %w", err)
	}

	if err := s.conversions.Create(ctx, conversion); err != nil {
		s.cleanupSpool(conversionID, req.FileName)
		return nil, err
	}

	s.track(ctx, &account.ID, models.EventFileUploaded, map[string]any{
		"conversion_id": conversionID,
		"file_name":     req.FileName,
		"file_size":     len(req.Data),
	})
	s.track(ctx, &account.ID, models.EventConversionStarted, map[string]any{
		"conversion_id": conversionID,
		"file_name":     req.FileName,
	})

	// Count the attempt before submission so a crashed submit cannot hand
	// out free conversions.
	if _, err := s.usage.Increment(ctx, account.ID, month); err != nil {
		return nil, err
	}

	taskID, err := s.gateway.Submit(ctx, worker.SubmitRequest{
		InputPath:  inputPath,
		OutputPath: s.spool.OutputPath(conversionID),
		Priority:   conversion.Priority,
	})
	if err != nil {
		// No retry here: a refused submission fails the conversion with the
		// gateway's reason and the client decides whether to try again.
		s.failConversion(ctx, conversion, err.Error())
		return nil, fmt.Errorf("starting conversion: %w", err)
	}

	if err := conversion.MarkProcessing(taskID); err != nil {
		return nil, err
	}
	if err := s.conversions.Update(ctx, conversion); err != nil {
		// The row would stay pending with a live worker task the reaper only
		// sweeps processing rows for. Cancel the task and fail the conversion.
		s.gateway.Cancel(ctx, taskID)
		s.failConversion(ctx, conversion, fmt.Sprintf("persisting conversion state: %v", err))
		return nil, fmt.Errorf("updating conversion: %w", err)
	}

	s.wg.Add(1)
	go s.pollTask(conversion.ID, taskID, req.FileName)

	s.logger.Info("conversion submitted",
		slog.String("conversion_id", conversionID),
		slog.String("task_id", taskID),
		slog.Int("priority", conversion.Priority),
	)

	return &UploadResult{ConversionID: conversion.ID, TaskID: taskID}, nil
}

// pollTask watches a worker task until it reaches a terminal state or the
// attempt ceiling passes. Runs on the service root context.
func (s *ConversionService) pollTask(conversionID models.ULID, taskID, fileName string) {
	defer s.wg.Done()

	lastUnknown := false

	select {
	case <-s.rootCtx.Done():
		return
	case <-time.After(s.pollStartup):
	}

	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		status, err := s.gateway.TaskStatus(s.rootCtx, taskID)
		if err != nil {
			lastUnknown = true
			s.logger.Warn("task status unavailable",
				slog.String("task_id", taskID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else {
			lastUnknown = false
			switch {
			case status.State == worker.StateSuccess && status.Result != nil && status.Result.Success:
				s.finalizeSuccess(conversionID, fileName, status.Result)
				return
			case status.State == worker.StateFailure:
				reason := status.Error
				if status.Result != nil && status.Result.Error != "" {
					reason = status.Result.Error
				}
				if reason == "" {
					reason = "conversion failed"
				}
				s.finalizeFailure(conversionID, fileName, reason)
				return
			}
			// PENDING or PROCESSING: keep waiting.
		}

		select {
		case <-s.rootCtx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}

	reason := "conversion timed out"
	if lastUnknown {
		reason = "conversion status unavailable"
	}
	s.finalizeFailure(conversionID, fileName, reason)
}

// finalizeSuccess moves the produced PDF to durable storage and completes
// the conversion. A failure while storing the output fails the conversion
// explicitly rather than leaving it stuck in processing.
func (s *ConversionService) finalizeSuccess(conversionID models.ULID, fileName string, result *worker.TaskResult) {
	ctx := s.rootCtx

	conversion, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil || conversion == nil {
		s.logger.Error("conversion vanished during finalization", slog.String("conversion_id", conversionID.String()))
		return
	}

	pdfKey, pdfURL, err := s.storeOutput(ctx, conversion)
	if err != nil {
		s.logger.Error("storing converted output failed",
			slog.String("conversion_id", conversionID.String()),
			slog.String("error", err.Error()),
		)
		s.failConversion(ctx, conversion, fmt.Sprintf("storing converted output: %v", err))
		s.cleanupSpool(conversionID.String(), fileName)
		return
	}

	if err := conversion.MarkCompleted(pdfKey, pdfURL); err != nil {
		s.logger.Warn("completion skipped", slog.String("conversion_id", conversionID.String()), slog.String("error", err.Error()))
		return
	}
	// Prefer the worker's measured duration when it reports one.
	if result.ProcessingTimeMs > 0 {
		conversion.ProcessingTimeMs = result.ProcessingTimeMs
	}
	if err := s.conversions.Update(ctx, conversion); err != nil {
		s.logger.Error("persisting completed conversion failed",
			slog.String("conversion_id", conversionID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.track(ctx, &conversion.AccountID, models.EventConversionCompleted, map[string]any{
		"conversion_id":      conversionID.String(),
		"processing_time_ms": conversion.ProcessingTimeMs,
	})
	s.queueCompletionEmail(ctx, conversion)
	s.cleanupSpool(conversionID.String(), fileName)

	s.logger.Info("conversion completed",
		slog.String("conversion_id", conversionID.String()),
		slog.Int64("processing_time_ms", conversion.ProcessingTimeMs),
	)
}

// storeOutput copies the spooled PDF into the object store.
func (s *ConversionService) storeOutput(ctx context.Context, conversion *models.Conversion) (string, string, error) {
	out, err := s.spool.OpenOutput(conversion.ID.String())
	if err != nil {
		return "", "", err
	}
	defer out.Close()

	pdfName := pdfFileName(conversion.OriginalFileName)
	pdfKey := storage.ObjectKey(conversion.AccountID.String(), conversion.ID.String(), pdfName)
	if err := s.store.Put(ctx, pdfKey, out, "application/pdf"); err != nil {
		return "", "", err
	}
	return pdfKey, s.store.URL(pdfKey), nil
}

// finalizeFailure marks the conversion failed and cleans up.
func (s *ConversionService) finalizeFailure(conversionID models.ULID, fileName, reason string) {
	ctx := s.rootCtx

	conversion, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil || conversion == nil {
		return
	}
	s.failConversion(ctx, conversion, reason)
	s.cleanupSpool(conversionID.String(), fileName)
}

// failConversion applies the failed transition, persists it, and records the
// analytics event.
func (s *ConversionService) failConversion(ctx context.Context, conversion *models.Conversion, reason string) {
	if err := conversion.MarkFailed(reason); err != nil {
		// Already terminal; nothing to record.
		return
	}
	if err := s.conversions.Update(ctx, conversion); err != nil {
		s.logger.Error("persisting failed conversion failed",
			slog.String("conversion_id", conversion.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.track(ctx, &conversion.AccountID, models.EventConversionFailed, map[string]any{
		"conversion_id": conversion.ID.String(),
		"error":         reason,
	})
	s.logger.Warn("conversion failed",
		slog.String("conversion_id", conversion.ID.String()),
		slog.String("reason", reason),
	)
}

// queueCompletionEmail enqueues the "ready" notification for delivery.
func (s *ConversionService) queueCompletionEmail(ctx context.Context, conversion *models.Conversion) {
	account := conversion.AccountID
	email := s.lookupEmail(ctx, account)
	if email == "" {
		return
	}
	task := &models.NotificationTask{
		AccountID:      account,
		ConversionID:   &conversion.ID,
		RecipientEmail: email,
		Subject:        "Your CAD conversion is ready!",
		Body: fmt.Sprintf("Your file %q has been successfully converted to PDF. Download it from your dashboard.",
			conversion.OriginalFileName),
		Status: models.NotificationPending,
	}
	if err := s.notifications.Create(ctx, task); err != nil {
		s.logger.Warn("queueing notification failed", slog.String("error", err.Error()))
	}
}

func (s *ConversionService) lookupEmail(ctx context.Context, accountID models.ULID) string {
	if s.accounts == nil {
		return ""
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil || account == nil {
		return ""
	}
	return account.Email
}

// cleanupSpool removes scratch files; failures are logged, never fatal.
func (s *ConversionService) cleanupSpool(conversionID, fileName string) {
	if err := s.spool.Cleanup(conversionID, fileName); err != nil {
		s.logger.Warn("spool cleanup failed",
			slog.String("conversion_id", conversionID),
			slog.String("error", err.Error()),
		)
	}
}

// track appends an analytics event; analytics never block the main flow.
func (s *ConversionService) track(ctx context.Context, accountID *models.ULID, eventType models.AnalyticsEventType, metadata map[string]any) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = []byte("{}")
	}
	event := &models.AnalyticsEvent{
		AccountID: accountID,
		EventType: eventType,
		Metadata:  string(payload),
	}
	if err := s.analytics.Create(ctx, event); err != nil {
		s.logger.Warn("recording analytics event failed",
			slog.String("event_type", string(eventType)),
			slog.String("error", err.Error()),
		)
	}
}

// GetForAccount returns a conversion if the account owns it or is an admin.
func (s *ConversionService) GetForAccount(ctx context.Context, account *models.Account, id models.ULID) (*models.Conversion, error) {
	conversion, err := s.conversions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversion == nil {
		return nil, models.ErrNotFound
	}
	if conversion.AccountID != account.ID && !account.IsAdmin() {
		return nil, models.ErrNotOwner
	}
	return conversion, nil
}

// ListForAccount returns the account's conversion history, newest first.
func (s *ConversionService) ListForAccount(ctx context.Context, account *models.Account, offset, limit int) ([]*models.Conversion, int64, error) {
	return s.conversions.ListByAccount(ctx, account.ID, offset, limit)
}

// RecordDownload tracks a PDF download and returns its URL.
func (s *ConversionService) RecordDownload(ctx context.Context, account *models.Account, id models.ULID) (string, error) {
	conversion, err := s.GetForAccount(ctx, account, id)
	if err != nil {
		return "", err
	}
	if conversion.Status != models.ConversionCompleted || conversion.PDFURL == "" {
		return "", models.ErrNotFound
	}
	s.track(ctx, &account.ID, models.EventPDFDownloaded, map[string]any{
		"conversion_id": id.String(),
	})
	return conversion.PDFURL, nil
}

// Usage returns the account's standing for the current month.
func (s *ConversionService) Usage(ctx context.Context, account *models.Account) (*UsageSummary, error) {
	month := models.CurrentMonthKey()
	used := 0
	if period, err := s.usage.Get(ctx, account.ID, month); err != nil {
		return nil, err
	} else if period != nil {
		used = period.ConversionsCount
	}

	limit := -1
	if !account.IsPremium() {
		limit = s.checker.FreeTierLimit()
	}
	return &UsageSummary{
		Used:  used,
		Limit: limit,
		Tier:  account.SubscriptionTier,
		Month: month,
	}, nil
}

// ReapInterrupted fails conversions left in processing by a previous run.
// Their poll loops died with the process, so nothing will ever finish them.
func (s *ConversionService) ReapInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.conversions.GetByStatus(ctx, models.ConversionProcessing)
	if err != nil {
		return 0, err
	}
	for _, conversion := range stuck {
		if conversion.TaskID != "" {
			s.gateway.Cancel(ctx, conversion.TaskID)
		}
		s.failConversion(ctx, conversion, "conversion interrupted by service restart")
		s.cleanupSpool(conversion.ID.String(), conversion.OriginalFileName)
	}
	return len(stuck), nil
}

// WorkerHealthy reports the gateway health for the service health endpoint.
func (s *ConversionService) WorkerHealthy(ctx context.Context) bool {
	return s.gateway.Healthy(ctx)
}

// QueueStats exposes the worker queue depth for the admin surface.
func (s *ConversionService) QueueStats(ctx context.Context) worker.QueueStats {
	return s.gateway.QueueStats(ctx)
}

// Stop stops accepting poll work and waits for in-flight loops to finish,
// up to the context deadline.
func (s *ConversionService) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pdfFileName swaps the CAD extension for .pdf.
func pdfFileName(fileName string) string {
	ext := filepath.Ext(fileName)
	return strings.TrimSuffix(fileName, ext) + ".pdf"
}
