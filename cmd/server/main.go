package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/cache"
	"fleetpilot-backend/internal/checks"
	"fleetpilot-backend/internal/config"
	"fleetpilot-backend/internal/handlers"
	"fleetpilot-backend/internal/ingest"
	"fleetpilot-backend/internal/logger"
	ratelimit "fleetpilot-backend/internal/middleware"
	"fleetpilot-backend/internal/natsbus"
	"fleetpilot-backend/internal/rpc"
	"fleetpilot-backend/internal/services"
	"fleetpilot-backend/internal/storage"
	"fleetpilot-backend/internal/tasks"
	"fleetpilot-backend/internal/workers"
)

type stopper interface {
	Stop() error
}

func main() {
	configPath := flag.String("config", os.Getenv("FLEETPILOT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection (with retries)
	attempt := 0
	db, err := retry.DoWithData(
		func() (*sqlx.DB, error) {
			attempt++
			db, err := sqlx.Connect("postgres", cfg.Database.DSN())
			if err != nil {
				log.WithError(err).Warnf("DB connection attempt %d failed", attempt)
			}
			return db, err
		},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(2*time.Second),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	log.Info("Connected to database")

	natsClient, err := natsbus.Connect(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	redisClient, err := cache.NewRedisCache(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := storage.NewStorage(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}
	rpcClient := rpc.NewClient(natsClient.NC())
	publisher := ingest.NewChangePublisher(natsClient.JS())

	// Alerting
	dispatcher := alerts.NewDispatcher(store,
		services.NewEmailSender(),
		services.NewSMSSender(),
		alerts.DispatcherConfig{
			Workers:       cfg.Alerts.NotifyWorkers,
			QueueSize:     cfg.Alerts.QueueSize,
			JitterMin:     cfg.Alerts.JitterMin,
			JitterMax:     cfg.Alerts.JitterMax,
			RatePerSecond: cfg.Alerts.RatePerSecond,
			Burst:         cfg.Alerts.RateBurst,
		},
		services.NewSlackClient(cfg.Alerts.SlackWebhookURL),
	)
	dispatcher.Start(ctx)
	manager := alerts.NewManager(store, dispatcher)
	resolver := alerts.NewResolver(store)

	// Checks and tasks
	checkService := checks.NewService(store, manager, cfg.Checks.HistoryWindow)
	reconciler := tasks.NewReconciler(store, rpcClient, tasks.Config{
		NamePrefix:       cfg.Tasks.NamePrefix,
		ReservedPrefixes: cfg.Tasks.ReservedPrefixes,
		RPCTimeout:       cfg.Tasks.RPCTimeout,
	})
	taskService := tasks.NewService(store, manager)

	// Consumers
	checkConsumer := ingest.NewCheckConsumer(natsClient.JS(), checkService)
	taskRunConsumer := ingest.NewTaskRunConsumer(natsClient.JS(), taskService)
	changeConsumer := ingest.NewChangeConsumer(natsClient.JS(), store, resolver, reconciler)
	kvWatcher := ingest.NewKVWatcher(natsClient.KV(), store, manager, redisClient, publisher)

	running := []stopper{}
	for name, c := range map[string]interface {
		stopper
		Start(ctx context.Context) error
	}{
		"checks":   checkConsumer,
		"taskruns": taskRunConsumer,
		"changes":  changeConsumer,
		"kv":       kvWatcher,
	} {
		if err := c.Start(ctx); err != nil {
			log.Fatalf("Failed to start %s consumer: %v", name, err)
		}
		running = append(running, c)
	}

	// Control loops
	driver := workers.NewDriver(cfg, store, redisClient, manager, reconciler, resolver)
	if err := driver.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	if !workers.StartRedisKeyeventWorker(ctx, redisClient, driver) {
		log.Warn("Redis keyspace notifications are not active; relying on the periodic outage scan")
	}

	// HTTP handlers
	h := handlers.New(manager, store, publisher, map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
		"redis":    redisClient.Ping,
		"nats": func(context.Context) error {
			if !natsClient.Connected() {
				return errors.New("disconnected")
			}
			return nil
		},
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r, ratelimit.RateLimitBulk(redisClient, cfg.HTTP.BulkRatePerMinute))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Server starting on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	driver.Stop()
	for _, c := range running {
		_ = c.Stop()
	}
	cancel()
	dispatcher.Wait()
	log.Info("Server stopped")
}
