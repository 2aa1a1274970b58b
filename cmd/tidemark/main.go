package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidemark-io/tidemark/internal/config"
	"github.com/tidemark-io/tidemark/internal/core/storage"
	"github.com/tidemark-io/tidemark/internal/core/storage/document"
	"github.com/tidemark-io/tidemark/internal/core/storage/postgres"
	"github.com/tidemark-io/tidemark/internal/dataset"
	"github.com/tidemark-io/tidemark/internal/migrations"
	"github.com/tidemark-io/tidemark/internal/server"
	"github.com/tidemark-io/tidemark/internal/service"
)

func main() {
	configPath := flag.String("config", "tidemark.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"backend", cfg.Storage.Backend,
		"data_sets", len(cfg.Definitions))

	// 2. Initialize Storage
	engine, err := newEngine(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// 3. Build the data set registry and provision collections
	registry := dataset.NewRegistry(cfg.Definitions, engine, logNotifier)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, ds := range registry.All() {
		if err := ds.CreateIfNotExists(startupCtx); err != nil {
			slog.Error("Failed to provision data set", "data_set", ds.Name(), "error", err)
			startupCancel()
			os.Exit(1)
		}
	}
	startupCancel()

	// 4. Initialize HTTP surface
	svc := service.NewService(registry, cfg.Server.MaxBodySizeMB)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), engine, cfg.Server.Mode)
	svc.RegisterRoutes(srv.Engine)

	// 5. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// newEngine builds the configured storage backend. The relational backend
// additionally runs the catalog migration.
func newEngine(cfg *config.Config) (storage.Engine, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		adapter, err := postgres.NewAdapter(
			cfg.Storage.Postgres.DSN,
			cfg.Storage.Postgres.MaxOpenConns,
			cfg.Storage.Postgres.MaxIdleConns,
		)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunMigrations(adapter.DB(), cfg.Storage.Postgres.AutoMigrate); err != nil {
			adapter.Close()
			return nil, err
		}
		return adapter, nil
	case "document":
		return document.New(document.Config{Path: cfg.Storage.Document.Path})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// logNotifier is the default write notification hook.
func logNotifier(ctx context.Context, name string, earliest, latest time.Time) {
	slog.Info("Data set updated",
		"data_set", name,
		"earliest", earliest,
		"latest", latest)
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
