package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopledger/internal/analytics"
	"shopledger/internal/config"
	httpapi "shopledger/internal/http"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
	"shopledger/internal/service"
	"shopledger/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	appLog, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	store, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		appLog.Fatalw("settings error", "error", err, "path", cfg.SettingsFile)
	}
	dataDir := cfg.DataDir
	if folder := store.DataFolder(); folder != "" && os.Getenv("DATA_DIR") == "" {
		dataDir = folder
	}

	ctx := context.Background()
	repo, err := repository.Open(ctx, repository.Options{
		DataDir:       dataDir,
		LockTimeout:   cfg.LockTimeout,
		InvoicePrefix: cfg.InvoicePrefix,
		Logger:        appLog.WithComponent("repository"),
	})
	if err != nil {
		appLog.Fatalw("open ledger", "error", err, "data_dir", dataDir)
	}

	engine := analytics.New(repo.Inventory, repo.Invoices, repo.Expenses, analytics.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            appLog,
	})
	svc := service.New(repo, engine, store, service.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            appLog,
	})
	if _, err := svc.Backup(ctx); err != nil {
		appLog.Warnw("startup backup failed", "error", err)
	}

	router := httpapi.NewRouter(httpapi.NewHandler(svc), appLog)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		appLog.Infow("shopledger listening", "addr", server.Addr, "data_dir", dataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatalw("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Errorw("graceful shutdown failed", "error", err)
		if closeErr := server.Close(); closeErr != nil {
			appLog.Errorw("force close failed", "error", closeErr)
		}
	}
}
