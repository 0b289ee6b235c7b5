package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/point-ledger/internal/api"
	"github.com/baharkarakas/point-ledger/internal/config"
	"github.com/baharkarakas/point-ledger/internal/db"
	"github.com/baharkarakas/point-ledger/internal/keylock"
	"github.com/baharkarakas/point-ledger/internal/logger"
	"github.com/baharkarakas/point-ledger/internal/metrics"
	"github.com/baharkarakas/point-ledger/internal/middleware"
	"github.com/baharkarakas/point-ledger/internal/repository"
	"github.com/baharkarakas/point-ledger/internal/repository/boltdb"
	"github.com/baharkarakas/point-ledger/internal/repository/memory"
	"github.com/baharkarakas/point-ledger/internal/repository/postgres"
	"github.com/baharkarakas/point-ledger/internal/services"
	"github.com/baharkarakas/point-ledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store", "storage", cfg.Storage, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ser, closeSer := newSerializer(cfg)
	defer closeSer()

	pointSvc := services.NewPointService(store, ser)

	metrics.Init()
	middleware.RegisterHTTPMetrics()
	r := api.NewRouter(cfg, pointSvc)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "storage", cfg.Storage, "serializer", cfg.Serializer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageBolt:
		return boltdb.New(cfg.BoltPath)
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.New(pool), nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func newSerializer(cfg config.Config) (services.Serializer, func()) {
	if cfg.Serializer == config.SerializerFIFO {
		q := worker.NewQueues(cfg.QueueSize)
		return q, q.Stop
	}
	if cfg.Serializer != config.SerializerLock {
		slog.Warn("unknown serializer, using lock", "serializer", cfg.Serializer)
	}
	return keylock.New(), func() {}
}
