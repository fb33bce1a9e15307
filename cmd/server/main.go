package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"borderhist/internal/audit"
	"borderhist/internal/history/handler"
	historymetrics "borderhist/internal/history/metrics"
	"borderhist/internal/history/models"
	"borderhist/internal/history/service"
	"borderhist/internal/history/store"
	"borderhist/internal/ingest"
	jwttoken "borderhist/internal/jwt_token"
	"borderhist/internal/platform/config"
	"borderhist/internal/platform/httpserver"
	"borderhist/internal/platform/logger"
	"borderhist/internal/platform/metrics"
	dErrors "borderhist/pkg/domain-errors"
)

const auditQueueSize = 64

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	histStore, db, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	sink, closeSink, err := buildAuditSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	inbox := make(audit.ChanSink, auditQueueSize)
	worker := audit.NewWorker(sink, inbox)
	publisher := audit.NewPublisher(inbox)

	hist, err := buildHistory(ctx, cfg, histStore, log, publisher)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	historyHandler := handler.New(hist, log, metrics.New(), jwttoken.NewJWTServiceAdapter(jwtService))

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	historyHandler.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting borderhist", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStore selects PostgreSQL persistence when a DSN is configured and
// falls back to the in-memory store otherwise.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	if cfg.PostgresDSN == "" {
		return store.NewInMemory(), nil, nil
	}
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pg, db, nil
}

// buildAuditSink publishes to Kafka when brokers are configured and keeps
// events in memory otherwise.
func buildAuditSink(ctx context.Context, cfg *config.Config, log *slog.Logger) (audit.Sink, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.NewInMemoryStore(), func() {}, nil
	}
	sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("connect audit broker: %w", err)
	}
	log.Info("audit events published to kafka", "topic", cfg.Kafka.Topic)
	return sink, sink.Close, nil
}

// buildHistory restores a persisted history when one exists, otherwise
// bootstraps from the configured initial state and optional change list.
func buildHistory(ctx context.Context, cfg *config.Config, histStore store.Store, log *slog.Logger, publisher *audit.Publisher) (*service.History, error) {
	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(historymetrics.New()),
	}

	regs, err := loadRegistries(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresDSN != "" {
		hist, err := service.Restore(ctx, regs, histStore, opts...)
		if err == nil {
			log.Info("history restored from store")
			return hist, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
	}

	if cfg.InitialStatePath == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			"no persisted history found and INITIAL_STATE_PATH is not set")
	}
	initial, err := ingest.LoadInitialState(cfg.InitialStatePath)
	if err != nil {
		return nil, err
	}
	if regs == nil {
		if regs, err = ingest.BuildRegistries(initial); err != nil {
			return nil, err
		}
	}

	hist, err := service.New(ctx, initial, regs, histStore, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.ChangesPath != "" {
		changes, err := ingest.LoadChanges(cfg.ChangesPath)
		if err != nil {
			return nil, err
		}
		applied, err := hist.ApplyAll(ctx, changes)
		if err != nil {
			return nil, err
		}
		log.Info("change list applied", "batches", applied)
	}
	return hist, nil
}

// loadRegistries reads both registry files; when the paths are unset the
// registries are derived from the initial state instead. A restored history
// needs the files, since registries are not persisted.
func loadRegistries(cfg *config.Config) (*models.Registries, error) {
	if cfg.RegionRegistryPath == "" && cfg.DistrictRegistryPath == "" {
		return nil, nil
	}
	if cfg.RegionRegistryPath == "" || cfg.DistrictRegistryPath == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			"REGION_REGISTRY_PATH and DISTRICT_REGISTRY_PATH must be set together")
	}
	regions, err := ingest.LoadRegistry(cfg.RegionRegistryPath, models.UnitKindRegion)
	if err != nil {
		return nil, err
	}
	districts, err := ingest.LoadRegistry(cfg.DistrictRegistryPath, models.UnitKindDistrict)
	if err != nil {
		return nil, err
	}
	return &models.Registries{Regions: regions, Districts: districts}, nil
}
