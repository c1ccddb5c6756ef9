// Package scheduler runs cadrelay's background maintenance: reaping
// conversions orphaned by a restart and pruning old terminal conversions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/repository"
)

// Reaper fails conversions whose poll loops died with a previous process.
type Reaper interface {
	ReapInterrupted(ctx context.Context) (int, error)
}

// Maintenance owns the cron runner and the startup reap.
type Maintenance struct {
	conversions repository.ConversionRepository
	reaper      Reaper
	cfg         config.MaintenanceConfig
	logger      *slog.Logger

	cron *cron.Cron
}

// NewMaintenance creates the maintenance runner.
func NewMaintenance(conversions repository.ConversionRepository, reaper Reaper, cfg config.MaintenanceConfig, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		conversions: conversions,
		reaper:      reaper,
		cfg:         cfg,
		logger:      logger,
		cron:        cron.New(),
	}
}

// Start reaps interrupted conversions once, then schedules retention pruning.
// The reap runs before the HTTP server accepts traffic so clients never see a
// processing conversion that nothing is polling.
func (m *Maintenance) Start(ctx context.Context) error {
	reaped, err := m.reaper.ReapInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("reaping interrupted conversions: %w", err)
	}
	if reaped > 0 {
		m.logger.Warn("failed conversions interrupted by previous shutdown",
			slog.Int("count", reaped),
		)
	}

	if m.cfg.Retention > 0 && m.cfg.RetentionCron != "" {
		if _, err := m.cron.AddFunc(m.cfg.RetentionCron, m.pruneRetention); err != nil {
			return fmt.Errorf("scheduling retention job: %w", err)
		}
	}

	m.cron.Start()
	m.logger.Info("maintenance scheduler started",
		slog.String("retention_cron", m.cfg.RetentionCron),
		slog.Duration("retention", m.cfg.Retention),
	)
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance scheduler stopped")
}

// pruneRetention deletes terminal conversions older than the retention window.
func (m *Maintenance) pruneRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-m.cfg.Retention)
	deleted, err := m.conversions.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error("retention pruning failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		m.logger.Info("pruned old conversions",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
}
