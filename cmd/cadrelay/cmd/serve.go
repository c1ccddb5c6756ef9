package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadrelay/cadrelay/internal/auth"
	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/database"
	"github.com/cadrelay/cadrelay/internal/database/migrations"
	"github.com/cadrelay/cadrelay/internal/entitlement"
	internalhttp "github.com/cadrelay/cadrelay/internal/http"
	"github.com/cadrelay/cadrelay/internal/http/handlers"
	"github.com/cadrelay/cadrelay/internal/repository"
	"github.com/cadrelay/cadrelay/internal/scheduler"
	"github.com/cadrelay/cadrelay/internal/service"
	"github.com/cadrelay/cadrelay/internal/storage"
	"github.com/cadrelay/cadrelay/internal/version"
	"github.com/cadrelay/cadrelay/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cadrelay server",
	Long: `Start the cadrelay HTTP server and API.

The server provides:
- REST API for uploading CAD files and tracking conversions
- Billing webhook endpoint for subscription reconciliation
- Admin read models and health check
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "cadrelay.db", "Database DSN")
	serveCmd.Flags().String("spool-dir", "/tmp/cadrelay-conversions", "Spool directory shared with the worker")
	serveCmd.Flags().String("worker-url", "http://localhost:5000", "Conversion worker base URL")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("storage.spool_dir", serveCmd.Flags().Lookup("spool-dir"))
	mustBindPFlag("worker.base_url", serveCmd.Flags().Lookup("worker-url"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	accountRepo := repository.NewAccountRepository(db.DB)
	conversionRepo := repository.NewConversionRepository(db.DB)
	usageRepo := repository.NewUsageRepository(db.DB)
	analyticsRepo := repository.NewAnalyticsRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)

	spool, err := storage.NewSpool(cfg.Storage.SpoolDir)
	if err != nil {
		return fmt.Errorf("initializing spool: %w", err)
	}

	store, err := storage.NewS3Store(context.Background(), cfg.Storage.S3)
	if err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}

	gateway := worker.NewClient(cfg.Worker, logger)
	checker := entitlement.NewChecker(cfg.Entitlement.FreeTierLimit, cfg.Entitlement.PremiumPriority)

	conversionService := service.NewConversionService(service.ConversionServiceParams{
		Conversions:   conversionRepo,
		Accounts:      accountRepo,
		Usage:         usageRepo,
		Analytics:     analyticsRepo,
		Notifications: notificationRepo,
		Checker:       checker,
		Gateway:       gateway,
		Store:         store,
		Spool:         spool,
		MaxUploadSize: int64(cfg.Storage.MaxUploadSize),
		Worker:        cfg.Worker,
		Logger:        logger,
	})
	billingService := service.NewBillingService(accountRepo, analyticsRepo, cfg.Billing, logger)
	adminService := service.NewAdminService(accountRepo, conversionRepo, analyticsRepo, gateway, logger)

	// Fail conversions orphaned by the previous run before accepting traffic,
	// then keep retention pruning on a cron.
	maintenance := scheduler.NewMaintenance(conversionRepo, conversionService, cfg.Maintenance, logger)
	if err := maintenance.Start(context.Background()); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	defer maintenance.Stop()

	identity := auth.NewMiddleware(accountRepo, logger, internalhttp.PublicPathPrefixes)
	server := internalhttp.NewServer(cfg.Server, identity, logger, version.Short())

	handlers.NewConversionHandler(conversionService).Register(server.API())
	handlers.NewSubscriptionHandler(billingService).Register(server.API())
	handlers.NewAdminHandler(adminService).Register(server.API())
	handlers.NewHealthHandler(version.Short(), db, conversionService).Register(server.API())

	webhookHandler := handlers.NewWebhookHandler(billingService, logger)
	server.Router().Post("/webhooks/stripe", webhookHandler.HandleStripe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting cadrelay server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Short()),
	)

	serveErr := server.ListenAndServe(ctx)

	// Drain in-flight poll loops before the process exits.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := conversionService.Stop(stopCtx); err != nil {
		logger.Warn("conversion polling did not drain in time", slog.String("error", err.Error()))
	}

	return serveErr
}
