package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/api"
	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/config"
	"github.com/hackgods/doctalk-booking/internal/db"
	"github.com/hackgods/doctalk-booking/internal/events"
	"github.com/hackgods/doctalk-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/doctalk-booking/internal/redis"
	"github.com/hackgods/doctalk-booking/internal/session"
	"github.com/hackgods/doctalk-booking/internal/voice"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const version = "0.1.0"

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

	lg.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageBackend),
		zap.String("sessions", cfg.SessionStore),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		repo   appointment.Repository
		pgPool *pgxpool.Pool
	)
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgresWithOptions(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
		cancelPg()
		if err != nil {
			lg.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		lg.Info("connected to Postgres")
		repo = appointment.NewPgRepository(pgPool)
	default:
		mem := appointment.NewMemoryRepository()
		seedDemoRoster(mem)
		repo = mem
		lg.Info("using in-memory storage with demo roster")
	}

	// Redis backs slot locks and, optionally, sessions. Without it both
	// fall back to in-process implementations.
	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	rdb, err = redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		lg.Warn("redis unavailable, using in-process slot locks", zap.Error(err))
		rdb = nil
		locker = redisclient.NewLocalLocker()
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("error closing redis", zap.Error(err))
			}
		}()
		lg.Info("connected to Redis")
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	}

	var (
		store      session.Store
		sessionOpt = []session.ManagerOption{
			session.WithCapacity(cfg.ContextCapacity),
			session.WithTurnTimeout(cfg.TurnTimeout),
			session.WithLogger(lg),
		}
	)
	if cfg.SessionStore == config.SessionStoreRedis && rdb != nil {
		store = session.NewRedisStore(rdb, cfg.SessionTTL, otel.Tracer("doctalk-booking/session"))
		// Replicas share sessions, so turns also take a Redis lock whose TTL
		// exceeds the turn timeout.
		sessionOpt = append(sessionOpt,
			session.WithTurnLocker(redisclient.NewRedisSlotLocker(rdb, cfg.TurnTimeout+cfg.LockTTL)))
	} else {
		if cfg.SessionStore == config.SessionStoreRedis {
			lg.Warn("redis session store requested but redis is unavailable, using memory")
		}
		store = session.NewMemoryStore(cfg.SessionTTL)
	}

	// Events
	svcOpts := []appointment.ServiceOption{appointment.WithLogger(lg)}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, lg)
		if err != nil {
			lg.Warn("nats unavailable, events stay in the event log only", zap.Error(err))
		} else {
			defer nc.Drain()
			svcOpts = append(svcOpts, appointment.WithPublisher(events.NewNATSPublisher(nc, cfg.NATSSubject)))
			lg.Info("publishing booking events", zap.String("subject", cfg.NATSSubject))
		}
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(reg)

	svc := appointment.NewService(repo, locker, svcOpts...)
	sessions := session.NewManager(store, sessionOpt...)
	orch := booking.New(sessions, svc, cfg.Location(), time.Now,
		booking.WithLogger(lg),
		booking.WithMetrics(bookingMetrics),
		booking.WithInterval(cfg.SlotInterval),
	)

	pipeline := newPipeline(cfg, orch, bookingMetrics, lg)

	router := api.NewRouter(api.RouterConfig{
		Orchestrator: orch,
		Pipeline:     pipeline,
		PgPool:       pgPool,
		Redis:        rdb,
		Gatherer:     reg,
		Logger:       lg,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	lg.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newPipeline wires the OpenAI adapters when a key is configured and the
// keyword classifier otherwise.
func newPipeline(cfg config.Config, orch *booking.Orchestrator, m *metrics.BookingMetrics, lg *logger.Logger) *voice.Pipeline {
	opts := []voice.Option{voice.WithMetrics(m), voice.WithLogger(lg)}

	client, err := voice.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		lg.Info("no OpenAI key, using keyword understanding for text utterances only")
		return voice.NewPipeline(orch, voice.KeywordUnderstander{}, opts...)
	}

	opts = append(opts,
		voice.WithTranscriber(voice.NewOpenAITranscriber(client)),
		voice.WithSynthesizer(voice.NewOpenAISynthesizer(client, cfg.OpenAITTSVoice)),
	)
	return voice.NewPipeline(orch, voice.NewOpenAIUnderstander(client, cfg.OpenAIChatModel), opts...)
}

func seedDemoRoster(mem *appointment.MemoryRepository) {
	roster := []appointment.Doctor{
		{Code: "D001", FirstName: "Sarah", LastName: "Smith", Specialty: "Family Medicine"},
		{Code: "D002", FirstName: "Emily", LastName: "Brown", Specialty: "Cardiology"},
		{Code: "D003", FirstName: "James", LastName: "Wilson", Specialty: "Dermatology"},
		{Code: "D004", FirstName: "Maria", LastName: "Garcia", Specialty: "Pediatrics"},
	}
	for _, d := range roster {
		d.IsActive = true
		d.IsAvailable = true
		mem.AddDoctor(d)
	}
}
