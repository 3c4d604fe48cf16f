package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/api"
	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/monitoring"
	"github.com/cabbageseo/geo-scanner/internal/notifications"
	"github.com/cabbageseo/geo-scanner/internal/scheduler"
	"github.com/cabbageseo/geo-scanner/internal/storage"
	"github.com/cabbageseo/geo-scanner/internal/tracking"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting GEO scanner")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalog, err := loadCatalog(cfg.TrackingFile)
	if err != nil {
		logrus.Fatalf("Failed to load tracking file: %v", err)
	}

	archive, err := newArchive(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	citations, closeCitations, err := newCitationStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize citation store: %v", err)
	}
	defer closeCitations()

	notificationService := notifications.NewService(cfg)
	monitoringService := monitoring.NewService(cfg, catalog, archive, citations, notificationService)

	schedulerService, err := scheduler.NewService(cfg, monitoringService)
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     api.NewServer(cfg, monitoringService).Handler(),
		ReadTimeout: 15 * time.Second,
		// a scan waits for the slowest platform call and its retry
		WriteTimeout: 2*cfg.CallTimeout + cfg.RetryBackoff + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

// loadCatalog reads the tracking file; a missing file means no tracked sites
func loadCatalog(path string) (*tracking.Catalog, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Tracking file %s not found, scheduled scans are disabled", path)
		return &tracking.Catalog{Categories: map[string][]string{}}, nil
	}
	return tracking.Load(path)
}

func newArchive(ctx context.Context, cfg *config.Config) (storage.StorageInterface, error) {
	if cfg.StorageAccount != "" {
		logrus.Infof("Archiving scans to Azure container %s/%s", cfg.StorageAccount, cfg.StorageContainer)
		azure, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, err
		}
		return azure, nil
	}

	logrus.Infof("AZURE_STORAGE_ACCOUNT not set, archiving scans under %s", cfg.LocalStorageDir)
	files, err := storage.NewFileStorage(cfg.LocalStorageDir)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func newCitationStore(ctx context.Context, cfg *config.Config) (storage.CitationStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logrus.Warn("DATABASE_URL not set, citations are kept in memory")
		return storage.NewMemoryCitationStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := storage.NewPostgresCitationStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
