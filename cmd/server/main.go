package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"invoiceflow/internal/audit"
	"invoiceflow/internal/config"
	"invoiceflow/internal/events"
	"invoiceflow/internal/orchestrator"
	"invoiceflow/internal/reminder"
	"invoiceflow/internal/repository"
	"invoiceflow/internal/router"
	"invoiceflow/internal/server"
	"invoiceflow/internal/worker"
	"invoiceflow/pkg/database"
	"invoiceflow/pkg/utils"
)

func main() {
	// A local .env is optional; environment wins over file values
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting invoiceflow",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	invoiceRepo := repository.NewSQLiteInvoiceRepository(db)
	auditLog := audit.NewSQLiteLog(db)
	bus := events.NewBus(logger)
	defer bus.Close()

	provider := buildProvider(cfg.Router, logger)
	orch := orchestrator.New(invoiceRepo, auditLog, bus, provider, db, logger)

	scanner := reminder.NewScanner(invoiceRepo, auditLog, bus, logger,
		reminder.WithScanInterval(cfg.Reminder.ScanInterval),
		reminder.WithCooldown(cfg.Reminder.Cooldown))

	workers := worker.NewManager(logger)
	if cfg.Reminder.Enabled {
		workers.Register(scanner)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer workers.StopAll()

	handlers := server.NewHandlers(orch, auditLog, scanner, logger)
	srv := server.NewServer(cfg.Server, handlers, logger)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// buildProvider picks the decision provider. Without an API key the service
// runs on the deterministic rule-based classifier.
func buildProvider(cfg config.RouterConfig, logger *zap.Logger) router.Provider {
	retry := router.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
		Timeout:    cfg.Timeout,
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured, using rule-based message routing")
		return router.NewRetryingProvider(router.NewRuleProvider(), retry, logger)
	}

	openAI, err := router.NewOpenAIProvider(router.OpenAIConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	}, logger)
	if err != nil {
		logger.Warn("OpenAI provider unavailable, using rule-based routing", zap.Error(err))
		return router.NewRetryingProvider(router.NewRuleProvider(), retry, logger)
	}
	return router.NewRetryingProvider(openAI, retry, logger)
}
