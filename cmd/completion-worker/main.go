package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/config"
	"github.com/hackgods/doctalk-booking/internal/db"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.ForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.StorageBackend != config.StorageBackendPostgres {
		lg.Fatal("completion worker requires the postgres storage backend")
	}

	lg.Info("completion-worker starting", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgresWithOptions(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	lg.Info("connected to Postgres")

	// Status transitions are keyed by appointment id; no slot lock is needed.
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), nil, appointment.WithLogger(lg))

	// Run once at startup
	runOnce(rootCtx, svc, lg)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			lg.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, lg)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, lg *logger.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompletePastAppointments(runCtx)
	if err != nil {
		lg.Error("completion run error", zap.Error(err))
		return
	}
	lg.Info("completion run complete", zap.Int("completed", n), zap.Duration("took", time.Since(start)))
}
