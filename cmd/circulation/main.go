// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/config"
	"libradesk/internal/eventstore"
	"libradesk/internal/library"
	"libradesk/internal/membership"
	"libradesk/internal/notify"
	"libradesk/internal/observability"
	"libradesk/internal/reports"
	"libradesk/internal/store"
	"libradesk/internal/store/memory"
	"libradesk/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("circulation desk stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.App, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	var db *sqlx.DB
	if cfg.Postgres.DSN != "" {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	st, err := openStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	circ, err := circulation.NewService(st, notifier, logger,
		circulation.WithMaxAttempts(cfg.Circulation.MaxAttempts),
		circulation.WithBackoff(cfg.Circulation.BaseDelay(), cfg.Circulation.JitterFactor),
	)
	if err != nil {
		return fmt.Errorf("circulation service: %w", err)
	}
	registry, err := reports.NewDefaultRegistry(st, time.Now)
	if err != nil {
		return fmt.Errorf("report registry: %w", err)
	}

	registrations := rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(cfg.RateLimit.RegistrationsPerMinute, 1))), max(cfg.RateLimit.RegistrationsPerMinute, 1))
	facade := library.NewFacade(
		circ,
		catalog.NewService(st, logger),
		membership.NewService(st, registrations, logger, membership.WithLoanLimit(circulation.MaxBooks)),
		registry,
	)

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	handler := library.NewHandler(facade, logger).Routes(limiter)
	if timeout := cfg.App.RequestTimeout(); timeout > 0 {
		handler = http.TimeoutHandler(handler, timeout, `{"error":"request timed out"}`)
	}

	srv := &http.Server{
		Addr:              cfg.App.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("circulation desk listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.App.Store),
			zap.Strings("notify", cfg.Notification.Channels),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *zap.Logger) (store.Store, error) {
	if cfg.App.Store == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}

	st := postgres.New(db)
	if cfg.Postgres.RunMigrations {
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func buildNotifier(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *zap.Logger) (circulation.Notifier, error) {
	var notifiers notify.Multi
	if cfg.Notification.HasChannel("log") {
		notifiers = append(notifiers, notify.NewLogNotifier(logger, cfg.Notification.EmailFrom))
	}
	if cfg.Notification.HasChannel("redis") {
		client := notify.NewRedisClient(cfg.Redis, logger)
		notifiers = append(notifiers, notify.NewRedisNotifier(client, cfg.Notification.RedisStream))
	}
	if cfg.Notification.HasChannel("outbox") {
		events := eventstore.NewEventStore(db)
		if cfg.Postgres.RunMigrations {
			if err := events.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		notifiers = append(notifiers, notify.NewOutboxNotifier(events))
	}

	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	}
	return notifiers, nil
}
