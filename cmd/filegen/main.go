// cmd/filegen/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filegen/internal/api/routes"
	"filegen/internal/config"
	"filegen/internal/dispatch"
	"filegen/internal/ingest"
	"filegen/internal/logger"
	"filegen/internal/notify"
	"filegen/internal/queue"
	"filegen/internal/reconcile"
	"filegen/internal/repository"
	"filegen/internal/sandbox"
	"filegen/internal/storage/leveldb"
	"filegen/internal/storage/object"
	"filegen/internal/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.Provide()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize the object store first: the Postgres client needs its
	// public URL builder to project download URLs.
	store, err := object.NewClient(cfg.Minio)
	if err != nil {
		zlog.Fatal("Failed to connect to object store", zap.Error(err))
	}

	// Initialize PostgreSQL client
	db, err := postgres.NewClient(cfg.Postgres, store.PublicURL)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize LevelDB client
	cache, err := leveldb.NewClient(cfg.LevelDB)
	if err != nil {
		zlog.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer cache.Close()

	// Initialize RabbitMQ client
	broker, err := queue.NewRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		zlog.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer broker.Close()

	// Repositories layering the cache over Postgres
	tasks := repository.NewTasks(db, cache, zlog)
	settings := repository.NewSettings(db, cache, zlog)
	templates := repository.NewTemplates(db, cache, zlog)

	// Register rendering engines. Unknown engine keys fail here, at
	// startup, not per work message.
	registry := sandbox.NewRegistry()
	for _, engine := range sandbox.BuiltinEngines() {
		if err := registry.Register(engine); err != nil {
			zlog.Fatal("Failed to register engine", zap.String("engine", engine.Name), zap.Error(err))
		}
		zlog.Info("registered engine", zap.String("engine", engine.Name), zap.String("queue", engine.Queue))
	}

	// Pipeline components
	dispatcher := dispatch.NewDispatcher(tasks, templates, broker, registry, zlog)
	notifier := notify.NewNotifier(settings, tasks, time.Duration(cfg.Webhook.RequestTimeout)*time.Second, zlog)
	ingestor := ingest.NewIngestor(tasks, notifier, broker, zlog)

	tplCache := sandbox.NewTemplateCache(
		time.Duration(cfg.Sandbox.TemplateCacheTTL)*time.Second,
		cfg.Sandbox.TemplateCacheMax,
	)
	executor := sandbox.NewExecutor(
		registry, store, broker, tplCache,
		cfg.Sandbox.MaxWorkers,
		time.Duration(cfg.Sandbox.ExecTimeout)*time.Second,
		zlog,
	)

	reconciler := reconcile.NewReconciler(
		tasks, dispatcher, notifier,
		cfg.Reconciler.IntervalDuration(),
		cfg.Reconciler.TimeoutDuration(),
		zlog,
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := executor.Start(ctx); err != nil {
		zlog.Fatal("Failed to start sandbox executor", zap.Error(err))
	}
	if err := ingestor.Start(ctx); err != nil {
		zlog.Fatal("Failed to start result ingestor", zap.Error(err))
	}
	go reconciler.Run(ctx)

	// Status API
	router := routes.SetupRouter(tasks, dispatcher)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		zlog.Info("status API listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("status API stopped", zap.Error(err))
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	zlog.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Sandbox.ShutdownTimeout) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("error during API shutdown", zap.Error(err))
	}

	cancel()
	if err := executor.Shutdown(shutdownTimeout); err != nil {
		zlog.Error("error during sandbox shutdown", zap.Error(err))
	}

	zlog.Info("shutdown complete")
}
