// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"libradesk/internal/config"
	"libradesk/internal/eventstore"
	"libradesk/internal/notify"
	"libradesk/internal/observability"
	"libradesk/internal/store/postgres"
)

const consumerName = "notification-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("POSTGRES_DSN is required to run the relay")
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()

	events := eventstore.NewEventStore(db)
	if err := events.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate event store", zap.Error(err))
	}

	var publisher notify.Publisher = notify.NewLogNotifier(logger, cfg.Notification.EmailFrom)
	if cfg.Notification.HasChannel("redis") {
		publisher = notify.NewRedisNotifier(notify.NewRedisClient(cfg.Redis, logger), cfg.Notification.RedisStream)
	}

	relay, err := notify.NewRelay(events, publisher, consumerName, cfg.Notification.RelayBatch, logger)
	if err != nil {
		logger.Fatal("failed to create relay", zap.Error(err))
	}

	logger.Info("relay started", zap.Duration("poll", cfg.Notification.PollInterval()))
	if err := relay.Run(ctx, cfg.Notification.PollInterval()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}
