package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/worker"
)

// ConversionStats aggregates conversion outcomes for the admin dashboard.
type ConversionStats struct {
	Total                   int64   `json:"total"`
	Pending                 int64   `json:"pending"`
	Processing              int64   `json:"processing"`
	Completed               int64   `json:"completed"`
	Failed                  int64   `json:"failed"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
}

// AdminStats is the combined service and queue view.
type AdminStats struct {
	Conversions ConversionStats                   `json:"conversions"`
	Accounts    map[models.SubscriptionTier]int64 `json:"accounts"`
	Queue       worker.QueueStats                 `json:"queue"`
}

// AnalyticsReport summarizes product events over a window.
type AnalyticsReport struct {
	Since  time.Time                   `json:"since"`
	Counts []repository.EventTypeCount `json:"counts"`
	Recent []*models.AnalyticsEvent    `json:"recent"`
}

// AdminService provides the read models and account administration used by
// the admin surface.
type AdminService struct {
	accounts    repository.AccountRepository
	conversions repository.ConversionRepository
	analytics   repository.AnalyticsRepository
	gateway     ConversionGateway
	logger      *slog.Logger
}

// NewAdminService creates the admin read-model service.
func NewAdminService(accounts repository.AccountRepository, conversions repository.ConversionRepository, analytics repository.AnalyticsRepository, gateway ConversionGateway, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		accounts:    accounts,
		conversions: conversions,
		analytics:   analytics,
		gateway:     gateway,
		logger:      logger,
	}
}

// ListAccounts returns all accounts, paged.
func (s *AdminService) ListAccounts(ctx context.Context, offset, limit int) ([]*models.Account, int64, error) {
	return s.accounts.List(ctx, offset, limit)
}

// ListConversions returns conversions across accounts, paged, optionally
// filtered by status.
func (s *AdminService) ListConversions(ctx context.Context, status models.ConversionStatus, offset, limit int) ([]*models.Conversion, int64, error) {
	return s.conversions.ListAll(ctx, status, offset, limit)
}

// Stats aggregates conversion, account, and queue statistics. Queue stats
// degrade to zero when the worker is unreachable; the dashboard must keep
// rendering.
func (s *AdminService) Stats(ctx context.Context) (*AdminStats, error) {
	statusCounts, err := s.conversions.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := ConversionStats{}
	for _, sc := range statusCounts {
		stats.Total += sc.Count
		switch sc.Status {
		case models.ConversionPending:
			stats.Pending = sc.Count
		case models.ConversionProcessing:
			stats.Processing = sc.Count
		case models.ConversionCompleted:
			stats.Completed = sc.Count
		case models.ConversionFailed:
			stats.Failed = sc.Count
		}
	}

	avg, err := s.conversions.AverageProcessingTimeMs(ctx)
	if err != nil {
		return nil, err
	}
	stats.AverageProcessingTimeMs = avg

	tiers, err := s.accounts.CountByTier(ctx)
	if err != nil {
		return nil, err
	}

	return &AdminStats{
		Conversions: stats,
		Accounts:    tiers,
		Queue:       s.gateway.QueueStats(ctx),
	}, nil
}

// Analytics reports event counts since the given time plus a recent sample.
func (s *AdminService) Analytics(ctx context.Context, since time.Time, recentLimit int) (*AnalyticsReport, error) {
	counts, err := s.analytics.CountByType(ctx, since)
	if err != nil {
		return nil, err
	}

	recent, err := s.analytics.ListRecent(ctx, recentLimit)
	if err != nil {
		return nil, err
	}

	return &AnalyticsReport{
		Since:  since,
		Counts: counts,
		Recent: recent,
	}, nil
}

// UpdateRole changes an account's role.
func (s *AdminService) UpdateRole(ctx context.Context, accountID models.ULID, role models.Role) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, models.ErrNotFound
	}

	account.Role = role
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account role updated",
		slog.String("account_id", accountID.String()),
		slog.String("role", string(role)),
	)
	return account, nil
}
