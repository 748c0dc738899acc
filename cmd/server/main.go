package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/debtbook-server/internal/api"
	"github.com/rongwang/debtbook-server/internal/config"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/repository"
	"github.com/rongwang/debtbook-server/internal/service"
	"github.com/rongwang/debtbook-server/internal/tasks"
	"github.com/rongwang/debtbook-server/internal/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create repository
	repo, closeRepo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	reportTasks := tasks.NewManager[[]models.MonthlyReport](tasks.Options{
		Workers: int64(cfg.Report.TaskWorkers),
		TTL:     cfg.Report.TaskTTL,
		Logger:  logger,
	})

	// Create service
	svc, err := service.NewDefaultService(repo, service.Options{
		Salt:           cfg.Auth.Salt,
		TokenTTL:       cfg.Auth.TokenTTL,
		PasswordScheme: cfg.Auth.PasswordScheme,
		InvitationTTL:  cfg.Auth.InvitationTTL,
		Location:       cfg.Report.Location(),
		BoundedBuckets: cfg.Report.BoundedBuckets,
		MaxWait:        cfg.Report.MaxWait,
		Tasks:          reportTasks,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	// Create API handler
	handler := api.NewHandler(svc, logger)

	// Set up Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		api.RequestLogger(logger),
		api.SecurityHeaders(),
		api.CORS(cfg.Server.FrontendURL),
	)

	// Set up routes
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", server.Addr, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	// Long-poll requests may hold connections up to the maximum wait
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Report.MaxWait+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// openRepository connects the configured data backend
func openRepository(cfg *config.Config, logger *utils.Logger) (repository.Repository, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory backend, data is lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	default:
		// Set up database connection
		db, err := config.SetupDatabase(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up database: %w", err)
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		}
		return repository.NewPostgresRepository(db), closeDB, nil
	}
}
