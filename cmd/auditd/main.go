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

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"audittrail/internal/diff"
	"audittrail/internal/dispatch"
	"audittrail/internal/event"
	"audittrail/internal/history"
	historyhandler "audittrail/internal/history/handler"
	"audittrail/internal/outbox"
	"audittrail/internal/platform/config"
	"audittrail/internal/platform/httpserver"
	"audittrail/internal/platform/logger"
	"audittrail/internal/platform/metrics"
	"audittrail/internal/platform/middleware"
	"audittrail/internal/platform/mongodb"
	"audittrail/internal/platform/postgres"
	platformredis "audittrail/internal/platform/redis"
	"audittrail/internal/registry"
	"audittrail/internal/sensitive"
	"audittrail/internal/source"
	"audittrail/internal/storage"
)

// main wires the audit pipeline: write path (tracker → outbox), delivery
// path (dispatcher workers → backend → optional Kafka), and the read API.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("auditd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	if cfg.RegistryFile != "" {
		if err := reg.LoadFile(cfg.RegistryFile); err != nil {
			return fmt.Errorf("load tracked-type registry: %w", err)
		}
	}

	masker, err := sensitive.New(cfg.MaskingKey, cfg.RequireCipher, sensitive.WithLogger(log))
	if err != nil {
		return fmt.Errorf("configure masking: %w", err)
	}

	// Durable stores: the outbox shares the Postgres connection with the
	// Postgres backend when both are configured.
	var outboxStore outbox.Store
	deps := storage.Deps{}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, outbox.Schema); err != nil {
			return fmt.Errorf("ensure outbox schema: %w", err)
		}
		if _, err := db.ExecContext(ctx, storage.Schema); err != nil {
			return fmt.Errorf("ensure events schema: %w", err)
		}
		deps.DB = db
		outboxStore = outbox.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory outbox")
		outboxStore = outbox.NewMemoryStore()
	}

	if cfg.MongoURI != "" {
		db, disconnect, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = disconnect(shutdownCtx)
		}()
		deps.Mongo = db
	}
	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Redis = client.Client
	}

	backend, err := storage.New(cfg.Backend, deps)
	if err != nil {
		return err
	}
	if mongoBackend, ok := backend.(*storage.MongoBackend); ok {
		if err := mongoBackend.EnsureIndexes(ctx); err != nil {
			return err
		}
	}

	dispatchMetrics := dispatch.NewMetrics()
	dispatcherOpts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithMetrics(dispatchMetrics),
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithLease(cfg.LockLease),
		dispatch.WithMaxAttempts(cfg.MaxAttempts),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := dispatch.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dispatcherOpts = append(dispatcherOpts, dispatch.WithPublisher(publisher))
	}
	dispatcher := dispatch.NewDispatcher(outboxStore, backend, dispatcherOpts...)

	// Write path: snapshot arena + relation buffer + diff engine feeding the
	// outbox through the tracker.
	arena := diff.NewArena(cfg.SnapshotTTL)
	engine := diff.NewEngine(nil, nil, masker)
	builder := event.NewBuilder(event.NewRuleSummarizer(), event.WithLogger(log))

	workers := make([]*dispatch.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workers = append(workers, dispatch.NewWorker(dispatcher, cfg.PollInterval, log))
	}
	tracker := source.NewTracker(reg, arena, diff.NewRelationBuffer(), engine, builder, outboxStore,
		source.WithLogger(log),
		source.WithMetrics(metrics.New()),
		source.WithKicker(workers[0]),
		source.WithSlotTTL(cfg.SnapshotTTL),
	)
	records := source.NewRecordStore(tracker)

	janitor := dispatch.NewJanitor(outboxStore, log,
		dispatch.WithSentRetention(cfg.SentRetention),
		dispatch.WithSweeper(tracker),
		dispatch.WithJanitorMetrics(dispatchMetrics),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestContext)
	router.Use(middleware.RequestLogger(log))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	historyhandler.New(
		history.NewService(backend, log),
		outboxStore,
		dispatcher,
		log,
	).Register(router)
	source.NewHTTPAPI(records, log).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, worker := range workers {
		worker := worker
		group.Go(func() error { return worker.Run(groupCtx) })
	}
	group.Go(func() error { return janitor.Run(groupCtx) })
	group.Go(func() error {
		log.Info("auditd listening", "addr", cfg.Addr, "backend", string(cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("auditd stopped")
	return nil
}
