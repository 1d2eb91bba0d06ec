package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/catalogsearch/internal/api"
	"github.com/knowledge-engine/catalogsearch/internal/config"
	"github.com/knowledge-engine/catalogsearch/internal/engine"
	"github.com/knowledge-engine/catalogsearch/internal/logging"
	"github.com/knowledge-engine/catalogsearch/internal/search"
	"github.com/knowledge-engine/catalogsearch/internal/storage"
)

func main() {
	// 1. Config
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logging
	entry, closer, err := logging.New(cfg.Log, "catalog-search")
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	entry.Info("Starting Catalog Search Service")

	// 3. Storage
	store, err := storage.NewFileStore(cfg.Paths.ModelPath, cfg.Paths.MatrixPath)
	if err != nil {
		entry.Fatalf("Failed to initialize storage: %v", err)
	}

	// 4. Engine
	eng := engine.NewEngine(cfg, entry, store)
	if err := eng.Reload(context.Background()); err != nil {
		if errors.Is(err, search.ErrLoad) {
			entry.WithError(err).Fatal("No usable model artifacts, run the trainer first")
		}
		entry.WithError(err).Fatal("Failed to load model snapshot")
	}

	// 5. API Server
	server := api.NewServer(eng, entry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			entry.WithError(err).Fatal("API server stopped")
		}
	case sig := <-sigCh:
		entry.WithField("signal", sig.String()).Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			entry.WithError(err).Error("Graceful shutdown failed")
		}
	}
	entry.Info("Catalog Search Service stopped")
}
